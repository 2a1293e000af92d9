package realtime

import "sync"

// sequencer serializes work per workspace. Entries are reference counted and
// removed once no caller holds or waits on them.
type sequencer struct {
	mu    sync.Mutex
	locks map[string]*seqLock
}

type seqLock struct {
	mu   sync.Mutex
	refs int
}

func newSequencer() *sequencer {
	return &sequencer{locks: make(map[string]*seqLock)}
}

func (s *sequencer) lock(workspaceID string) func() {
	s.mu.Lock()
	l, ok := s.locks[workspaceID]
	if !ok {
		l = &seqLock{}
		s.locks[workspaceID] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Unlock()
			s.mu.Lock()
			l.refs--
			if l.refs == 0 {
				delete(s.locks, workspaceID)
			}
			s.mu.Unlock()
		})
	}
}

func (s *sequencer) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.locks)
}
