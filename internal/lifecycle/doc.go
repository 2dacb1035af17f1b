// ABOUTME: Stream lifecycle package
// ABOUTME: Task executor and destruction protocol driver
// Package lifecycle serializes stream lifecycle work.
//
// Stream start and stop calls have to run on one execution context, so
// goroutines that discover lifecycle work (the network receive loop, signal
// handlers) hand it to an Executor rather than calling into components
// directly.
package lifecycle
