// Package tools runs argv-style commands on a device.
//
// Ownership boundary:
// - quoting argv into one remote shell command line
//
// - mapping an execution result to stdout, stderr and exit code
//
// Protocol selection, framing and timeouts stay in package shell.
package tools
