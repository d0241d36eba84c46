// Package device owns the host-daemon client used by command execution.
//
// Ownership boundary:
// - device feature and API level queries
//
// - opening device services over a transport channel
//
// - exit status tracking for protocols without a native exit frame
package device
