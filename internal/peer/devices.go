package peer

import (
	"context"
	"fmt"
	"time"

	"support-calls/internal/media"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
)

// Compile-time interface check.
var _ media.Devices = SyntheticDevices{}

// SyntheticDevices produce pion tracks fed with silence and a placeholder
// video frame. Headless agents use them where no capture hardware exists.
type SyntheticDevices struct{}

func (SyntheticDevices) Acquire(ctx context.Context, kind media.Kind) (*media.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !kind.Valid() {
		return nil, media.ErrUnavailable
	}
	streamID := uuid.NewString()
	tracks := make([]media.Track, 0, 2)
	for _, k := range media.TrackKinds(kind) {
		t, err := newSyntheticTrack(k, streamID)
		if err != nil {
			for _, done := range tracks {
				done.Stop()
			}
			return nil, fmt.Errorf("%w: %v", media.ErrUnavailable, err)
		}
		tracks = append(tracks, t)
	}
	return media.NewStream(tracks...), nil
}

var (
	opusSilence = []byte{0xf8, 0xff, 0xfe}
	// A VP8 keyframe header for a 2x2 frame; enough to packetize.
	vp8Placeholder = []byte{0x10, 0x02, 0x00, 0x9d, 0x01, 0x2a, 0x02, 0x00, 0x02, 0x00}
)

type syntheticTrack struct {
	*media.BasicTrack
	local *webrtc.TrackLocalStaticSample
}

func (t *syntheticTrack) Local() webrtc.TrackLocal { return t.local }

func newSyntheticTrack(kind media.TrackKind, streamID string) (*syntheticTrack, error) {
	codec := webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
	frame, interval := opusSilence, 20*time.Millisecond
	if kind == media.TrackVideo {
		codec = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
		frame, interval = vp8Placeholder, 33*time.Millisecond
	}

	local, err := webrtc.NewTrackLocalStaticSample(codec, string(kind), streamID)
	if err != nil {
		return nil, err
	}

	stop := make(chan struct{})
	t := &syntheticTrack{
		BasicTrack: media.NewBasicTrack(kind, func() { close(stop) }),
		local:      local,
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				_ = local.WriteSample(pionmedia.Sample{Data: frame, Duration: interval})
			}
		}
	}()
	return t, nil
}
