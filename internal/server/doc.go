// Package server maps links onto engines.
//
// A Host accepts TCP connections and runs one engine per connection; a new
// connection replaces the one before it. An Instrument dials a host (or opens
// a serial port), runs a single engine and returns when it ends.
package server
