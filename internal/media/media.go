// Package media models the local and remote media streams a call session owns.
//
// A Stream is a set of Tracks. Stopping a stream stops every track; stopping is
// idempotent so every exit path can release unconditionally.
package media

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

var (
	// ErrPermissionDenied is returned when the user refused camera or microphone access.
	ErrPermissionDenied = errors.New("media: permission denied")
	// ErrUnavailable is returned when no suitable capture device exists.
	ErrUnavailable = errors.New("media: device unavailable")
)

// Kind is what a call negotiates: audio only or audio plus video.
type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

func (k Kind) Valid() bool { return k == KindAudio || k == KindVideo }

// TrackKind is the kind of a single track.
type TrackKind string

const (
	TrackAudio TrackKind = "audio"
	TrackVideo TrackKind = "video"
)

type Track interface {
	ID() string
	Kind() TrackKind
	Live() bool
	Stop()
}

// Devices acquires local capture streams.
type Devices interface {
	Acquire(ctx context.Context, kind Kind) (*Stream, error)
}

type Stream struct {
	id     string
	mu     sync.Mutex
	tracks []Track
}

func NewStream(tracks ...Track) *Stream {
	return &Stream{id: uuid.NewString(), tracks: tracks}
}

func (s *Stream) ID() string { return s.id }

func (s *Stream) Tracks() []Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Track, len(s.tracks))
	copy(out, s.tracks)
	return out
}

// AddTrack appends a track, used when remote tracks arrive one at a time.
func (s *Stream) AddTrack(t Track) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracks = append(s.tracks, t)
}

// Stop stops every track. Safe on a nil stream and safe to call repeatedly.
func (s *Stream) Stop() {
	if s == nil {
		return
	}
	for _, t := range s.Tracks() {
		t.Stop()
	}
}

// LiveTracks counts tracks that have not been stopped.
func (s *Stream) LiveTracks() int {
	if s == nil {
		return 0
	}
	n := 0
	for _, t := range s.Tracks() {
		if t.Live() {
			n++
		}
	}
	return n
}

func (s *Stream) HasLive(kind TrackKind) bool {
	if s == nil {
		return false
	}
	for _, t := range s.Tracks() {
		if t.Kind() == kind && t.Live() {
			return true
		}
	}
	return false
}

// BasicTrack is a track with no backing device. Transports use it for remote
// tracks and tests use it for local ones.
type BasicTrack struct {
	id      string
	kind    TrackKind
	stopped atomic.Bool
	onStop  func()
	once    sync.Once
}

func NewBasicTrack(kind TrackKind, onStop func()) *BasicTrack {
	return &BasicTrack{id: uuid.NewString(), kind: kind, onStop: onStop}
}

func (t *BasicTrack) ID() string      { return t.id }
func (t *BasicTrack) Kind() TrackKind { return t.kind }
func (t *BasicTrack) Live() bool      { return !t.stopped.Load() }

func (t *BasicTrack) Stop() {
	t.once.Do(func() {
		t.stopped.Store(true)
		if t.onStop != nil {
			t.onStop()
		}
	})
}

// TrackKinds lists the tracks a call of kind needs.
func TrackKinds(kind Kind) []TrackKind {
	if kind == KindVideo {
		return []TrackKind{TrackAudio, TrackVideo}
	}
	return []TrackKind{TrackAudio}
}
