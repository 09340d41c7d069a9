package media

import (
	"context"
	"sync"
)

// MemoryDevices hands out BasicTrack streams and remembers every stream it
// produced so tests can assert nothing was left running.
type MemoryDevices struct {
	mu       sync.Mutex
	err      error
	acquired []*Stream
}

func NewMemoryDevices() *MemoryDevices { return &MemoryDevices{} }

// Fail makes subsequent Acquire calls return err. nil restores success.
func (d *MemoryDevices) Fail(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
}

func (d *MemoryDevices) Acquire(ctx context.Context, kind Kind) (*Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !kind.Valid() {
		return nil, ErrUnavailable
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	tracks := make([]Track, 0, 2)
	for _, k := range TrackKinds(kind) {
		tracks = append(tracks, NewBasicTrack(k, nil))
	}
	s := NewStream(tracks...)
	d.acquired = append(d.acquired, s)
	return s, nil
}

// LiveTracks counts live tracks across every stream ever acquired.
func (d *MemoryDevices) LiveTracks() int {
	d.mu.Lock()
	streams := append([]*Stream(nil), d.acquired...)
	d.mu.Unlock()
	n := 0
	for _, s := range streams {
		n += s.LiveTracks()
	}
	return n
}

func (d *MemoryDevices) Acquired() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.acquired)
}
