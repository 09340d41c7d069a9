package peer

import (
	"context"
	"fmt"
	"sync"

	"support-calls/internal/media"

	"github.com/google/uuid"
)

// Compile-time interface check.
var _ Transport = (*MemoryTransport)(nil)

// Network connects MemoryTransports in process. Streams are mirrored: each side
// receives fresh tracks of the kinds the other side sent.
type Network struct {
	mu        sync.Mutex
	endpoints map[string]*MemoryTransport
}

func NewNetwork() *Network { return &Network{endpoints: map[string]*MemoryTransport{}} }

// Transport returns a new unopened transport on the network.
func (n *Network) Transport() *MemoryTransport {
	return &MemoryTransport{net: n, incoming: make(chan *Incoming, eventBuffer)}
}

// Break fails every live session of endpoint with err.
func (n *Network) Break(endpoint string, err error) {
	n.mu.Lock()
	t := n.endpoints[endpoint]
	n.mu.Unlock()
	if t == nil {
		return
	}
	for _, s := range t.liveSessions() {
		s.fail(err)
	}
}

func (n *Network) lookup(id string) *MemoryTransport {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.endpoints[id]
}

type MemoryTransport struct {
	net      *Network
	incoming chan *Incoming

	mu       sync.Mutex
	id       string
	sessions []*memorySession
}

func (t *MemoryTransport) Open(ctx context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.id != "" {
		return t.id, nil
	}
	t.id = uuid.NewString()
	t.net.mu.Lock()
	t.net.endpoints[t.id] = t
	t.net.mu.Unlock()
	return t.id, nil
}

func (t *MemoryTransport) endpoint() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.id
}

func (t *MemoryTransport) Incoming() <-chan *Incoming { return t.incoming }

func (t *MemoryTransport) Call(ctx context.Context, remote string, local *media.Stream, meta Meta) (Session, error) {
	self := t.endpoint()
	if self == "" {
		return nil, ErrNotOpen
	}
	if local == nil || len(local.Tracks()) == 0 {
		return nil, ErrNoTracks
	}
	dst := t.net.lookup(remote)
	if dst == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEndpoint, remote)
	}

	caller := newMemorySession(remote, local)
	t.track(caller)

	in := &Incoming{ID: caller.id, From: self, Meta: meta, handle: caller}
	select {
	case dst.incoming <- in:
	case <-ctx.Done():
		caller.Close()
		return nil, ctx.Err()
	}
	return caller, nil
}

func (t *MemoryTransport) Answer(ctx context.Context, in *Incoming, local *media.Stream) (Session, error) {
	if t.endpoint() == "" {
		return nil, ErrNotOpen
	}
	caller, ok := in.handle.(*memorySession)
	if !ok {
		return nil, fmt.Errorf("peer: foreign incoming call %s", in.ID)
	}
	if local == nil || len(local.Tracks()) == 0 {
		return nil, ErrNoTracks
	}
	callee := newMemorySession(in.From, local)
	if !caller.connect(callee) {
		return nil, ErrSessionClosed
	}
	t.track(callee)
	return callee, nil
}

func (t *MemoryTransport) Close() error {
	for _, s := range t.liveSessions() {
		s.Close()
	}
	t.mu.Lock()
	id := t.id
	t.id = ""
	t.mu.Unlock()
	if id != "" {
		t.net.mu.Lock()
		delete(t.net.endpoints, id)
		t.net.mu.Unlock()
	}
	return nil
}

func (t *MemoryTransport) track(s *memorySession) {
	t.mu.Lock()
	defer t.mu.Unlock()
	live := t.sessions[:0]
	for _, old := range t.sessions {
		if !old.sink.done() {
			live = append(live, old)
		}
	}
	t.sessions = append(live, s)
}

func (t *MemoryTransport) liveSessions() []*memorySession {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*memorySession, 0, len(t.sessions))
	for _, s := range t.sessions {
		if !s.sink.done() {
			out = append(out, s)
		}
	}
	return out
}

type memorySession struct {
	id     string
	remote string
	local  *media.Stream
	sink   *eventSink

	mu       sync.Mutex
	peer     *memorySession
	received *media.Stream
}

func newMemorySession(remote string, local *media.Stream) *memorySession {
	return &memorySession{id: uuid.NewString(), remote: remote, local: local, sink: newEventSink()}
}

func (s *memorySession) ID() string           { return s.id }
func (s *memorySession) Remote() string       { return s.remote }
func (s *memorySession) Events() <-chan Event { return s.sink.ch }

// connect pairs caller s with callee and delivers each side the other's stream.
func (s *memorySession) connect(callee *memorySession) bool {
	if s.sink.done() {
		return false
	}
	s.mu.Lock()
	s.peer = callee
	s.received = mirror(callee.local)
	toCaller := s.received
	s.mu.Unlock()

	callee.mu.Lock()
	callee.peer = s
	callee.received = mirror(s.local)
	toCallee := callee.received
	callee.mu.Unlock()

	s.sink.emit(Event{Kind: EventStream, Stream: toCaller})
	callee.sink.emit(Event{Kind: EventStream, Stream: toCallee})
	return true
}

func (s *memorySession) Close() error {
	s.shutdown(Event{})
	return nil
}

func (s *memorySession) fail(err error) {
	s.shutdown(Event{Kind: EventError, Err: err})
}

func (s *memorySession) shutdown(ev Event) {
	if !s.sink.finish(ev) {
		return
	}
	s.mu.Lock()
	peer := s.peer
	received := s.received
	s.mu.Unlock()

	received.Stop()
	if peer != nil {
		peer.remoteClosed()
	}
}

func (s *memorySession) remoteClosed() {
	if !s.sink.finish(Event{Kind: EventClose}) {
		return
	}
	s.mu.Lock()
	received := s.received
	s.mu.Unlock()
	received.Stop()
}

func mirror(src *media.Stream) *media.Stream {
	tracks := make([]media.Track, 0, 2)
	for _, t := range src.Tracks() {
		tracks = append(tracks, media.NewBasicTrack(t.Kind(), nil))
	}
	return media.NewStream(tracks...)
}
