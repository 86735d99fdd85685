// Package node names the two roles a process can run.
package node

import "github.com/danmuck/enqlink/internal/protocol/session"

const (
	KindHost       = "host"
	KindInstrument = "instrument"
)

// Node is a running link endpoint.
type Node interface {
	Kind() string
	Sessions() []session.Status
}
