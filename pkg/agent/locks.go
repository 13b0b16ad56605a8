package agent

import "sync"

var noWait = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// sequencer lines work up per key: one ticket runs at a time and tickets run
// in the order they were reserved. Keys nobody holds are forgotten.
type sequencer struct {
	mu    sync.Mutex
	tails map[string]*ticket
}

type ticket struct {
	seq   *sequencer
	key   string
	ready <-chan struct{}
	done  chan struct{}
	once  sync.Once
}

func newSequencer() *sequencer {
	return &sequencer{tails: make(map[string]*ticket)}
}

// Reserve queues a ticket for key behind every ticket reserved before it. It
// never blocks.
func (s *sequencer) Reserve(key string) *ticket {
	t := &ticket{seq: s, key: key, ready: noWait, done: make(chan struct{})}

	s.mu.Lock()
	if prev, ok := s.tails[key]; ok {
		t.ready = prev.done
	}
	s.tails[key] = t
	s.mu.Unlock()

	return t
}

// Wait blocks until every earlier ticket for the same key has finished.
func (t *ticket) Wait() {
	<-t.ready
}

// Finish hands the key to the next ticket. Extra calls are no-ops.
func (t *ticket) Finish() {
	t.once.Do(func() {
		close(t.done)

		t.seq.mu.Lock()
		if t.seq.tails[t.key] == t {
			delete(t.seq.tails, t.key)
		}
		t.seq.mu.Unlock()
	})
}

func (s *sequencer) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tails)
}
