// Package peer is the media transport a call session drives. A Transport
// opens a local endpoint, places and answers low-level calls, and reports
// stream, close and error events on a per-session channel.
package peer

import (
	"context"
	"errors"

	"support-calls/internal/media"
)

var (
	ErrNotOpen         = errors.New("peer: transport not open")
	ErrUnknownEndpoint = errors.New("peer: unknown endpoint")
	ErrSessionClosed   = errors.New("peer: session closed")
	ErrNoTracks        = errors.New("peer: stream has no usable tracks")
)

// Meta travels with a low-level call so the answerer can match it to an invite.
type Meta struct {
	From      string     `json:"from,omitempty"`
	MediaKind media.Kind `json:"mediaKind,omitempty"`
}

type Transport interface {
	// Open returns the local endpoint id, opening the endpoint on first use.
	Open(ctx context.Context) (string, error)
	Call(ctx context.Context, remote string, local *media.Stream, meta Meta) (Session, error)
	Incoming() <-chan *Incoming
	Answer(ctx context.Context, in *Incoming, local *media.Stream) (Session, error)
	Close() error
}

// Incoming is a low-level call waiting to be answered.
type Incoming struct {
	ID   string
	From string
	Meta Meta

	handle any
}

// Session is one low-level call. Events is closed after the final EventClose
// or EventError, or once Close is called.
type Session interface {
	ID() string
	Remote() string
	Events() <-chan Event
	Close() error
}

type EventKind int

const (
	EventStream EventKind = iota + 1
	EventClose
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventStream:
		return "stream"
	case EventClose:
		return "close"
	case EventError:
		return "error"
	}
	return "unknown"
}

type Event struct {
	Kind   EventKind
	Stream *media.Stream
	Err    error
}
