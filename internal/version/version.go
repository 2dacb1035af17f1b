// ABOUTME: Version information for resonate-mic
// ABOUTME: Provides version constants advertised in logs and mDNS
package version

const (
	// Version is the current version of resonate-mic
	Version = "0.1.0"

	// Product is the product name
	Product = "Resonate Mic"

	// Manufacturer is the manufacturer name
	Manufacturer = "Resonate"
)

// String returns the product name and version as shown in logs
func String() string {
	return Product + " v" + Version
}
