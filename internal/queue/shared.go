package queue

import (
	"path/filepath"
	"sync"
	"sync/atomic"
)

// sendSet is the process-wide view of one send directory. Its mutex makes
// scan-and-claim and archive linearizable across queues in this process, and
// gen moves whenever the directory may have changed.
type sendSet struct {
	mu       sync.Mutex
	claims   map[string]*Queue
	gen      atomic.Uint64
	watching atomic.Int32
}

func (s *sendSet) release(q *Queue) {
	for name, owner := range s.claims {
		if owner == q {
			delete(s.claims, name)
			s.gen.Add(1)
		}
	}
}

var registryMu sync.Mutex

var (
	sendSets     = make(map[string]*sendSet)
	counterLocks = make(map[string]*sync.Mutex)
)

func canonical(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return filepath.Clean(abs)
	}
	return filepath.Clean(path)
}

func sendSetFor(dir string) *sendSet {
	key := canonical(dir)
	registryMu.Lock()
	defer registryMu.Unlock()
	s, ok := sendSets[key]
	if !ok {
		s = &sendSet{claims: make(map[string]*Queue)}
		sendSets[key] = s
	}
	return s
}

func counterLockFor(path string) *sync.Mutex {
	key := canonical(path)
	registryMu.Lock()
	defer registryMu.Unlock()
	mu, ok := counterLocks[key]
	if !ok {
		mu = &sync.Mutex{}
		counterLocks[key] = mu
	}
	return mu
}
