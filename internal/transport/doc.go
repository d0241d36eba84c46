// Package transport owns the byte-stream channel used by one command execution.
//
// Ownership boundary:
// - connect/read/write with per-operation timeouts
//
// - exactly-once close under cancellation
//
// - half-close of the write side
//
// A Channel is owned by exactly one execution and is never shared across
// concurrent commands.
package transport
