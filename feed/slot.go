package feed

import "sync"

// Slot holds at most one live session. Switching the slot cancels the previous
// session before the next one starts, so the consumer never receives snapshots of
// two resources interleaved.
type Slot struct {
	controller *Controller
	lock       sync.Mutex
	current    *Session
}

// NewSlot define a new empty Slot
func NewSlot(controller *Controller) *Slot {
	return &Slot{controller: controller}
}

// Switch cancel the current session, then start observing "feed"
func (s *Slot) Switch(feed Feed, handlers Handlers) (*Session, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.current != nil {
		s.current.Cancel()
		s.current = nil
	}
	session, err := s.controller.Start(feed, handlers)
	if err != nil {
		return nil, err
	}
	s.current = session
	return session, nil
}

// Current the live session, or nil
func (s *Slot) Current() *Session {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.current
}

// Close cancel the current session
func (s *Slot) Close() {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.current != nil {
		s.current.Cancel()
		s.current = nil
	}
}
