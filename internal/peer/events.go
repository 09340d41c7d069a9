package peer

import "sync"

const eventBuffer = 16

// eventSink delivers session events and closes the channel exactly once.
type eventSink struct {
	mu     sync.Mutex
	ch     chan Event
	closed bool
}

func newEventSink() *eventSink { return &eventSink{ch: make(chan Event, eventBuffer)} }

func (s *eventSink) emit(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- ev:
	default:
	}
}

// finish emits ev (unless it is the zero Event) and closes the channel. It
// reports whether this call was the one that closed it.
func (s *eventSink) finish(ev Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	if ev.Kind != 0 {
		select {
		case s.ch <- ev:
		default:
		}
	}
	s.closed = true
	close(s.ch)
	return true
}

func (s *eventSink) done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
