// Package shell owns remote command execution on a device.
//
// Ownership boundary:
// - protocol selection from device facts and caller permissions
//
// - wire framing for the multiplexed and raw protocols
//
// - overall and idle timeouts
//
// - folding protocol events into caller-visible units through collectors
//
// One execution owns one transport channel. The channel is closed exactly
// once, before any failure is delivered to the consumer, whichever way the
// execution ends: normal completion, consumer stop, timeout or cancellation.
package shell
