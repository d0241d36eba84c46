// Package session owns the host-daemon service wire.
//
// Ownership boundary:
// - length-prefixed service requests
//
// - OKAY/FAIL status replies
//
// - host connection timeout defaults
//
// A request is four lowercase hex digits giving the payload length followed
// by the ASCII service name. The host replies OKAY, or FAIL followed by a
// length-prefixed message.
package session
