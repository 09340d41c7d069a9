package peer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"support-calls/internal/media"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

// Compile-time interface check.
var _ Transport = (*WebRTCTransport)(nil)

// brokerPollInterval is how often the transport claims envelopes addressed to it.
const brokerPollInterval = 500 * time.Millisecond

// iceGatherTimeout is the maximum time to wait for ICE candidate gathering
// to complete before publishing the SDP.
const iceGatherTimeout = 15 * time.Second

// hangupTimeout bounds the best-effort hangup publish after a local close.
const hangupTimeout = 5 * time.Second

// ICEConfig holds ICE server configuration for PeerConnections. An empty
// config means host candidates only, enough for same-machine calls.
type ICEConfig struct {
	Servers []webrtc.ICEServer
}

func ICEConfigFromURLs(urls []string) ICEConfig {
	if len(urls) == 0 {
		return ICEConfig{}
	}
	return ICEConfig{Servers: []webrtc.ICEServer{{URLs: urls}}}
}

// LocalTrack is a media.Track that pion can send.
type LocalTrack interface {
	media.Track
	Local() webrtc.TrackLocal
}

// WebRTCTransport places and answers calls as pion PeerConnections. SDP
// travels through a Broker; the transport claims its envelopes on a ticker
// once opened.
type WebRTCTransport struct {
	broker       Broker
	ice          ICEConfig
	logger       *slog.Logger
	pollInterval time.Duration

	incoming chan *Incoming

	mu       sync.Mutex
	endpoint string
	sessions map[string]*rtcSession
	stopPoll context.CancelFunc

	closed    chan struct{}
	closeOnce sync.Once
}

func NewWebRTCTransport(broker Broker, ice ICEConfig, logger *slog.Logger) *WebRTCTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebRTCTransport{
		broker:       broker,
		ice:          ice,
		logger:       logger,
		pollInterval: brokerPollInterval,
		incoming:     make(chan *Incoming, eventBuffer),
		sessions:     make(map[string]*rtcSession),
		closed:       make(chan struct{}),
	}
}

// Open allocates the endpoint id and starts claiming envelopes. The poller
// runs until Close, not until ctx is done.
func (wt *WebRTCTransport) Open(ctx context.Context) (string, error) {
	select {
	case <-wt.closed:
		return "", ErrNotOpen
	default:
	}

	wt.mu.Lock()
	defer wt.mu.Unlock()
	if wt.endpoint != "" {
		return wt.endpoint, nil
	}
	wt.endpoint = uuid.NewString()

	pollCtx, cancel := context.WithCancel(context.Background())
	wt.stopPoll = cancel
	go wt.poll(pollCtx, wt.endpoint)

	wt.logger.Info("peer endpoint opened", "endpoint", wt.endpoint)
	return wt.endpoint, nil
}

func (wt *WebRTCTransport) Incoming() <-chan *Incoming { return wt.incoming }

func (wt *WebRTCTransport) self() string {
	wt.mu.Lock()
	defer wt.mu.Unlock()
	return wt.endpoint
}

func (wt *WebRTCTransport) Call(ctx context.Context, remote string, local *media.Stream, meta Meta) (Session, error) {
	self := wt.self()
	if self == "" {
		return nil, ErrNotOpen
	}

	s, err := wt.newSession(uuid.NewString(), remote, local)
	if err != nil {
		return nil, err
	}

	offer, err := s.pc.CreateOffer(nil)
	if err != nil {
		s.abort()
		return nil, fmt.Errorf("creating SDP offer: %w", err)
	}
	sdp, err := s.gatherLocal(ctx, offer)
	if err != nil {
		s.abort()
		return nil, err
	}

	wt.register(s)
	env := Envelope{Kind: EnvelopeOffer, From: self, SessionID: s.id, SDP: sdp, Meta: meta}
	if err := wt.broker.Publish(ctx, remote, env); err != nil {
		s.abort()
		return nil, fmt.Errorf("publishing SDP offer: %w", err)
	}

	wt.logger.Info("peer offer published", "session", s.id, "remote", remote)
	return s, nil
}

func (wt *WebRTCTransport) Answer(ctx context.Context, in *Incoming, local *media.Stream) (Session, error) {
	self := wt.self()
	if self == "" {
		return nil, ErrNotOpen
	}
	offerSDP, ok := in.handle.(string)
	if !ok || offerSDP == "" {
		return nil, fmt.Errorf("peer: incoming call %s has no offer", in.ID)
	}

	s, err := wt.newSession(in.ID, in.From, local)
	if err != nil {
		return nil, err
	}
	if err := s.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offerSDP}); err != nil {
		s.abort()
		return nil, fmt.Errorf("setting remote description: %w", err)
	}
	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		s.abort()
		return nil, fmt.Errorf("creating SDP answer: %w", err)
	}
	sdp, err := s.gatherLocal(ctx, answer)
	if err != nil {
		s.abort()
		return nil, err
	}

	wt.register(s)
	env := Envelope{Kind: EnvelopeAnswer, From: self, SessionID: s.id, SDP: sdp, Meta: in.Meta}
	if err := wt.broker.Publish(ctx, in.From, env); err != nil {
		s.abort()
		return nil, fmt.Errorf("publishing SDP answer: %w", err)
	}

	wt.logger.Info("peer call answered", "session", s.id, "remote", in.From)
	return s, nil
}

// Close shuts down every session and stops the poller.
func (wt *WebRTCTransport) Close() error {
	wt.closeOnce.Do(func() { close(wt.closed) })

	wt.mu.Lock()
	if wt.stopPoll != nil {
		wt.stopPoll()
	}
	sessions := make([]*rtcSession, 0, len(wt.sessions))
	for _, s := range wt.sessions {
		sessions = append(sessions, s)
	}
	wt.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
	return nil
}

func (wt *WebRTCTransport) poll(ctx context.Context, endpoint string) {
	ticker := time.NewTicker(wt.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			envs, err := wt.broker.Claim(ctx, endpoint)
			if err != nil {
				wt.logger.Warn("claiming peer envelopes failed", "error", err)
				continue
			}
			for _, env := range envs {
				wt.dispatch(env)
			}
		}
	}
}

func (wt *WebRTCTransport) dispatch(env Envelope) {
	switch env.Kind {
	case EnvelopeOffer:
		in := &Incoming{ID: env.SessionID, From: env.From, Meta: env.Meta, handle: env.SDP}
		select {
		case wt.incoming <- in:
		default:
			wt.logger.Warn("incoming call dropped, queue full", "session", env.SessionID)
		}
	case EnvelopeAnswer:
		s := wt.lookup(env.SessionID)
		if s == nil {
			wt.logger.Debug("answer for unknown session", "session", env.SessionID)
			return
		}
		err := s.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: env.SDP})
		if err != nil {
			s.shutdown(Event{Kind: EventError, Err: fmt.Errorf("setting remote description: %w", err)}, true)
		}
	case EnvelopeHangup:
		if s := wt.lookup(env.SessionID); s != nil {
			s.shutdown(Event{Kind: EventClose}, false)
		}
	default:
		wt.logger.Debug("unknown peer envelope", "kind", env.Kind)
	}
}

func (wt *WebRTCTransport) register(s *rtcSession) {
	wt.mu.Lock()
	defer wt.mu.Unlock()
	wt.sessions[s.id] = s
}

func (wt *WebRTCTransport) unregister(id string) {
	wt.mu.Lock()
	defer wt.mu.Unlock()
	delete(wt.sessions, id)
}

func (wt *WebRTCTransport) lookup(id string) *rtcSession {
	wt.mu.Lock()
	defer wt.mu.Unlock()
	return wt.sessions[id]
}

func (wt *WebRTCTransport) newSession(id, remote string, local *media.Stream) (*rtcSession, error) {
	if local == nil {
		return nil, ErrNoTracks
	}
	pc, err := wt.newPeerConnection()
	if err != nil {
		return nil, fmt.Errorf("creating PeerConnection: %w", err)
	}

	added := 0
	for _, t := range local.Tracks() {
		lt, ok := t.(LocalTrack)
		if !ok {
			continue
		}
		sender, err := pc.AddTrack(lt.Local())
		if err != nil {
			pc.Close()
			return nil, fmt.Errorf("adding %s track: %w", lt.Kind(), err)
		}
		go drainRTCP(sender)
		added++
	}
	if added == 0 {
		pc.Close()
		return nil, ErrNoTracks
	}

	s := &rtcSession{id: id, remote: remote, pc: pc, sink: newEventSink(), wt: wt}
	pc.OnTrack(s.onTrack)
	pc.OnConnectionStateChange(s.onState)
	return s, nil
}

// newPeerConnection creates a pion PeerConnection with default codecs and
// loopback candidates enabled.
func (wt *WebRTCTransport) newPeerConnection() (*webrtc.PeerConnection, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}
	settingEngine := webrtc.SettingEngine{}
	settingEngine.SetIncludeLoopbackCandidate(true)

	api := webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithSettingEngine(settingEngine))
	return api.NewPeerConnection(webrtc.Configuration{ICEServers: wt.ice.Servers})
}

func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

type rtcSession struct {
	id     string
	remote string
	pc     *webrtc.PeerConnection
	sink   *eventSink
	wt     *WebRTCTransport

	mu       sync.Mutex
	received *media.Stream
}

func (s *rtcSession) ID() string           { return s.id }
func (s *rtcSession) Remote() string       { return s.remote }
func (s *rtcSession) Events() <-chan Event { return s.sink.ch }

// Close ends the call locally and tells the remote side.
func (s *rtcSession) Close() error {
	s.shutdown(Event{}, true)
	return nil
}

// abort tears down a session that was never published.
func (s *rtcSession) abort() {
	s.shutdown(Event{}, false)
}

func (s *rtcSession) shutdown(ev Event, notify bool) {
	if !s.sink.finish(ev) {
		return
	}
	s.wt.unregister(s.id)

	s.mu.Lock()
	received := s.received
	s.mu.Unlock()
	received.Stop()

	if err := s.pc.Close(); err != nil {
		s.wt.logger.Debug("closing PeerConnection", "session", s.id, "error", err)
	}

	if notify {
		from := s.wt.self()
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), hangupTimeout)
			defer cancel()
			env := Envelope{Kind: EnvelopeHangup, From: from, SessionID: s.id}
			if err := s.wt.broker.Publish(ctx, s.remote, env); err != nil {
				s.wt.logger.Warn("publishing hangup failed", "session", s.id, "error", err)
			}
		}()
	}
}

func (s *rtcSession) gatherLocal(ctx context.Context, desc webrtc.SessionDescription) (string, error) {
	gatherComplete := webrtc.GatheringCompletePromise(s.pc)
	if err := s.pc.SetLocalDescription(desc); err != nil {
		return "", fmt.Errorf("setting local description: %w", err)
	}
	select {
	case <-gatherComplete:
	case <-time.After(iceGatherTimeout):
		return "", fmt.Errorf("ICE gathering timed out after %s", iceGatherTimeout)
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return s.pc.LocalDescription().SDP, nil
}

// onTrack collects remote tracks into one stream and reports it on the first track.
func (s *rtcSession) onTrack(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	kind := media.TrackAudio
	if remote.Kind() == webrtc.RTPCodecTypeVideo {
		kind = media.TrackVideo
	}
	track := media.NewBasicTrack(kind, nil)
	go func() {
		defer track.Stop()
		for track.Live() {
			if _, _, err := remote.ReadRTP(); err != nil {
				return
			}
		}
	}()

	s.mu.Lock()
	first := s.received == nil
	if first {
		s.received = media.NewStream(track)
	} else {
		s.received.AddTrack(track)
	}
	stream := s.received
	s.mu.Unlock()

	if first {
		s.sink.emit(Event{Kind: EventStream, Stream: stream})
	}
}

func (s *rtcSession) onState(state webrtc.PeerConnectionState) {
	s.wt.logger.Debug("peer connection state change", "session", s.id, "state", state.String())

	switch state {
	case webrtc.PeerConnectionStateFailed:
		s.shutdown(Event{Kind: EventError, Err: errors.New("peer connection failed")}, true)
	case webrtc.PeerConnectionStateClosed:
		s.shutdown(Event{Kind: EventClose}, false)
	}
}
