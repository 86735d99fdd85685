// Package protocol owns the control-byte vocabulary of the link.
//
// Ownership boundary:
// - handshake and framing control bytes
// - shared protocol errors
// - frame codec (subpackage frame)
// - per-connection engine (subpackage session)
package protocol
