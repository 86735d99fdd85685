// Package session runs the per-connection ENQ/ACK/NAK engine.
//
// Ownership boundary:
// - busy and contention timers
// - the idle poll, sender handshake and receive phase
// - single-frame send-and-wait with bounded resends
// - reconnect backoff for dialing peers
//
// An Engine owns its stream for its whole life and closes it when Run
// returns. File selection and commit are delegated to a FileQueue.
package session
