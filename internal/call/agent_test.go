package call

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"support-calls/internal/auth"
	"support-calls/internal/calllog"
	"support-calls/internal/chatlog"
	"support-calls/internal/media"
	"support-calls/internal/peer"
	"support-calls/internal/signalbus"
	"support-calls/pkg/logger"
)

const waitTimeout = 2 * time.Second

var (
	customerP = auth.Principal{Email: "ann@example.com", Name: "Ann", Role: auth.RoleCustomer}
	supportP  = auth.Principal{Email: "desk@example.com", Name: "Desk", Role: auth.RoleSupport}
)

type harness struct {
	store *signalbus.MemoryStore
	bus   *signalbus.Service
	net   *peer.Network
}

func newHarness() *harness {
	store := signalbus.NewMemoryStore()
	return &harness{
		store: store,
		bus:   signalbus.NewService(store, 0, logger.Discard()),
		net:   peer.NewNetwork(),
	}
}

type party struct {
	agent   *Agent
	mailbox *signalbus.Mailbox
	devices *media.MemoryDevices
	history *calllog.MemoryRepo

	// seen keeps every signal this party drained, in order.
	seen []signalbus.Signal

	cancel   context.CancelFunc
	done     chan error
	stopOnce sync.Once
}

func (h *harness) join(t *testing.T, p auth.Principal, opts ...func(*Config)) *party {
	t.Helper()
	devices := media.NewMemoryDevices()
	history := calllog.NewMemoryRepo()
	mb := h.bus.Mailbox(p)
	cfg := Config{
		Principal: p,
		Bus:       mb,
		Transport: h.net.Transport(),
		Devices:   devices,
		History:   calllog.NewService(history),
		Dwell:     5 * time.Millisecond,
		Logger:    logger.Discard(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	agent, err := NewAgent(cfg)
	if err != nil {
		t.Fatalf("NewAgent: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	pt := &party{agent: agent, mailbox: mb, devices: devices, history: history, cancel: cancel, done: make(chan error, 1)}
	go func() { pt.done <- agent.Run(ctx) }()
	t.Cleanup(pt.stop)

	deadline := time.Now().Add(waitTimeout)
	for agent.Endpoint() == "" {
		if time.Now().After(deadline) {
			t.Fatalf("agent for %s never opened its endpoint", p.Identity())
		}
		time.Sleep(time.Millisecond)
	}
	return pt
}

func (p *party) stop() {
	p.stopOnce.Do(func() {
		p.cancel()
		select {
		case <-p.done:
		case <-time.After(waitTimeout):
		}
	})
}

// pump drains the party's mailbox once and feeds the batch to its agent.
func (p *party) pump(t *testing.T) int {
	t.Helper()
	sigs, err := p.mailbox.Drain(context.Background())
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	p.seen = append(p.seen, sigs...)
	if err := p.agent.Signals(context.Background(), sigs); err != nil {
		t.Fatalf("Signals: %v", err)
	}
	return len(sigs)
}

// until pumps signals into p until cond holds for its snapshot.
func (p *party) until(t *testing.T, what string, cond func(Snapshot) bool) Snapshot {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for {
		p.pump(t)
		snap := p.agent.Snapshot()
		if cond(snap) {
			return snap
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s; snapshot %+v", what, snap)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func (p *party) notices() []Notice {
	var out []Notice
	for {
		select {
		case n := <-p.agent.Notices():
			out = append(out, n)
		default:
			return out
		}
	}
}

func hasNotice(ns []Notice, kind NoticeKind) bool {
	for _, n := range ns {
		if n.Kind == kind {
			return true
		}
	}
	return false
}

func countSeen(sigs []signalbus.Signal, typ signalbus.Type) int {
	n := 0
	for _, s := range sigs {
		if s.Type == typ {
			n++
		}
	}
	return n
}

func inState(s State) func(Snapshot) bool {
	return func(snap Snapshot) bool { return snap.State == s }
}

// waitQueued blocks until identity has n undrained signals.
func (h *harness) waitQueued(t *testing.T, identity string, n int) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for h.store.Len(identity) < n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d signals queued for %s, have %d", n, identity, h.store.Len(identity))
		}
		time.Sleep(time.Millisecond)
	}
}

func waitLiveTracks(t *testing.T, p *party, want int) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for p.devices.LiveTracks() != want {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d live tracks, have %d", want, p.devices.LiveTracks())
		}
		time.Sleep(time.Millisecond)
	}
}

// connect sets up an active video call placed by the customer.
func connect(t *testing.T, h *harness, kind media.Kind) (*party, *party) {
	t.Helper()
	cust := h.join(t, customerP)
	sup := h.join(t, supportP)
	ctx := context.Background()

	if err := cust.agent.PlaceCall(ctx, auth.SupportIdentity, kind); err != nil {
		t.Fatalf("PlaceCall: %v", err)
	}
	sup.until(t, "incoming", inState(StateIncoming))
	if err := sup.agent.Accept(ctx); err != nil {
		t.Fatalf("Accept: %v", err)
	}
	waitActive(t, cust)
	waitActive(t, sup)
	return cust, sup
}

func waitActive(t *testing.T, p *party) Snapshot {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for {
		snap := p.agent.Snapshot()
		if snap.State == StateActive {
			return snap
		}
		if time.Now().After(deadline) {
			t.Fatalf("never became active; snapshot %+v", snap)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestVideoCallConnects(t *testing.T) {
	h := newHarness()
	cust, sup := connect(t, h, media.KindVideo)

	for name, p := range map[string]*party{"customer": cust, "support": sup} {
		snap := p.agent.Snapshot()
		if !snap.HasLocal || !snap.HasRemote {
			t.Fatalf("%s: expected local and remote streams, got %+v", name, snap)
		}
		if snap.MediaKind != media.KindVideo {
			t.Fatalf("%s: media kind %q", name, snap.MediaKind)
		}
		if p.devices.LiveTracks() != 2 {
			t.Fatalf("%s: expected 2 live local tracks, got %d", name, p.devices.LiveTracks())
		}
	}
	if got := sup.agent.Snapshot().Remote; got != customerP.Identity() {
		t.Fatalf("support remote = %q", got)
	}
	if got := cust.agent.Snapshot().Direction; got != DirectionOutbound {
		t.Fatalf("customer direction = %q", got)
	}
	if !hasNotice(sup.notices(), NoticeIncoming) {
		t.Fatalf("support never saw an incoming notice")
	}
}

func TestCancelBeforeSupportLooks(t *testing.T) {
	h := newHarness()
	cust := h.join(t, customerP)
	sup := h.join(t, supportP)
	ctx := context.Background()

	if err := cust.agent.PlaceCall(ctx, auth.SupportIdentity, media.KindAudio); err != nil {
		t.Fatalf("PlaceCall: %v", err)
	}
	if err := cust.agent.CancelOrReject(ctx); err != nil {
		t.Fatalf("CancelOrReject: %v", err)
	}
	if got := cust.agent.Snapshot(); got.State != StateIdle || got.HasLocal {
		t.Fatalf("customer not released: %+v", got)
	}
	waitLiveTracks(t, cust, 0)

	h.waitQueued(t, auth.SupportIdentity, 2)
	if n := sup.pump(t); n != 2 {
		t.Fatalf("expected invite and cancel, drained %d", n)
	}
	// Any command round-trips the loop, so the batch has been handled.
	if err := sup.agent.Hangup(ctx); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("Hangup on idle = %v", err)
	}
	if got := sup.agent.Snapshot().State; got != StateIdle {
		t.Fatalf("support left idle: %s", got)
	}
	if hasNotice(sup.notices(), NoticeIncoming) {
		t.Fatalf("support rang for a cancelled call")
	}

	// The same invite replayed from chat after the freshness window is ignored.
	now := time.Now()
	obs := chatlog.Observation{
		MessageID: "m1",
		Token:     chatlog.InviteToken{PeerID: cust.agent.Endpoint(), MediaKind: "audio"},
		At:        now.Add(-time.Minute),
	}
	if err := sup.agent.Legacy(ctx, customerP.Email, obs); err != nil {
		t.Fatalf("Legacy: %v", err)
	}
	_ = sup.agent.Hangup(ctx)
	if got := sup.agent.Snapshot().State; got != StateIdle {
		t.Fatalf("stale invite rang: %s", got)
	}

	deadline := time.Now().Add(waitTimeout)
	for len(cust.history.Events()) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("cancelled call not recorded")
		}
		time.Sleep(time.Millisecond)
	}
	if e := cust.history.Events()[0]; e.Kind != calllog.KindCancelled {
		t.Fatalf("recorded %q, want cancelled", e.Kind)
	}
}

func TestVerificationFlow(t *testing.T) {
	h := newHarness()
	cust, sup := connect(t, h, media.KindVideo)
	ctx := context.Background()

	if err := sup.agent.RequestVerification(ctx); err != nil {
		t.Fatalf("RequestVerification: %v", err)
	}
	if got := sup.agent.Snapshot().Audit; got.Status != AuditChecking || got.ID == "" {
		t.Fatalf("support audit after request: %+v", got)
	}

	cust.until(t, "customer verdict", func(s Snapshot) bool { return s.Audit.Status == AuditVerified })
	sup.until(t, "support verdict", func(s Snapshot) bool { return s.Audit.Status == AuditVerified })

	var steps []string
	results := 0
	for _, sig := range sup.seen {
		switch sig.Type {
		case signalbus.TypeVerifyStep:
			if results > 0 {
				t.Fatalf("step after result")
			}
			var p signalbus.VerifyStepPayload
			if err := sig.Decode(&p); err != nil {
				t.Fatalf("decode step: %v", err)
			}
			steps = append(steps, p.Step)
		case signalbus.TypeVerifyResult:
			results++
		}
	}
	want := []string{"blink", "turn", "smile"}
	if len(steps) != len(want) {
		t.Fatalf("steps = %v, want %v", steps, want)
	}
	for i := range want {
		if steps[i] != want[i] {
			t.Fatalf("steps = %v, want %v", steps, want)
		}
	}
	if results != 1 {
		t.Fatalf("expected exactly one result, got %d", results)
	}
	if !hasNotice(sup.notices(), NoticeVerification) {
		t.Fatalf("support was not told about the verdict")
	}
}

func TestVerificationFailsWithoutVideo(t *testing.T) {
	h := newHarness()
	cust := h.join(t, customerP, func(c *Config) {
		c.Challenger = ChallengerFunc(func(context.Context, Step, *media.Stream) bool { return false })
	})
	sup := h.join(t, supportP)
	ctx := context.Background()

	if err := cust.agent.PlaceCall(ctx, auth.SupportIdentity, media.KindVideo); err != nil {
		t.Fatalf("PlaceCall: %v", err)
	}
	sup.until(t, "incoming", inState(StateIncoming))
	if err := sup.agent.Accept(ctx); err != nil {
		t.Fatalf("Accept: %v", err)
	}
	waitActive(t, cust)
	waitActive(t, sup)

	if err := sup.agent.RequestVerification(ctx); err != nil {
		t.Fatalf("RequestVerification: %v", err)
	}
	cust.until(t, "customer verdict", func(s Snapshot) bool { return s.Audit.Status == AuditFailed })
	sup.until(t, "support verdict", func(s Snapshot) bool { return s.Audit.Status == AuditFailed })
}

func TestRequestVerificationRules(t *testing.T) {
	h := newHarness()
	cust := h.join(t, customerP)
	sup := h.join(t, supportP)
	ctx := context.Background()

	if err := sup.agent.RequestVerification(ctx); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("idle support: %v", err)
	}
	if err := cust.agent.RequestVerification(ctx); err == nil {
		t.Fatalf("customer must not request verification")
	}
}

func TestRemoteEndIsNotEchoed(t *testing.T) {
	h := newHarness()
	cust, sup := connect(t, h, media.KindVideo)
	ctx := context.Background()

	if err := cust.agent.Hangup(ctx); err != nil {
		t.Fatalf("Hangup: %v", err)
	}
	sup.until(t, "idle", inState(StateIdle))
	waitLiveTracks(t, cust, 0)
	waitLiveTracks(t, sup, 0)

	// Ending twice, from the bus and from chat, is harmless.
	end := signalbus.Signal{From: customerP.Email, To: auth.SupportIdentity, Type: signalbus.TypeCallEnded, CreatedAt: time.Now()}
	if err := sup.agent.Signals(ctx, []signalbus.Signal{end}); err != nil {
		t.Fatalf("Signals: %v", err)
	}
	obs := chatlog.Observation{MessageID: "m7", Token: chatlog.EndedToken{}, At: time.Now()}
	if err := sup.agent.Legacy(ctx, customerP.Email, obs); err != nil {
		t.Fatalf("Legacy: %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	_ = sup.agent.Hangup(ctx)
	cust.pump(t)
	if n := countSeen(cust.seen, signalbus.TypeCallEnded); n != 0 {
		t.Fatalf("support echoed %d CALL_ENDED", n)
	}
	if snap := sup.agent.Snapshot(); snap.HasLocal || snap.HasRemote {
		t.Fatalf("support kept streams: %+v", snap)
	}
}

func TestStateGate(t *testing.T) {
	h := newHarness()
	sup := h.join(t, supportP)
	ctx := context.Background()

	invite := func(from string) signalbus.Signal {
		raw, _ := json.Marshal(signalbus.InvitePayload{PeerID: "peer-" + from, MediaKind: signalbus.MediaAudio})
		return signalbus.Signal{From: from, To: auth.SupportIdentity, Type: signalbus.TypeCallInvite, Payload: raw, CreatedAt: time.Now()}
	}

	if err := sup.agent.Signals(ctx, []signalbus.Signal{invite("ann@example.com"), invite("bob@example.com")}); err != nil {
		t.Fatalf("Signals: %v", err)
	}
	_ = sup.agent.Hangup(ctx)
	snap := sup.agent.Snapshot()
	if snap.State != StateIncoming || snap.Remote != "ann@example.com" {
		t.Fatalf("second invite displaced the first: %+v", snap)
	}

	// Only the current remote can end the call.
	bye := signalbus.Signal{From: "bob@example.com", Type: signalbus.TypeCallCancelled, CreatedAt: time.Now()}
	_ = sup.agent.Signals(ctx, []signalbus.Signal{bye})
	_ = sup.agent.Hangup(ctx)
	if got := sup.agent.Snapshot().State; got != StateIncoming {
		t.Fatalf("stranger cancelled the call: %s", got)
	}

	// Hangup is only valid while active.
	if err := sup.agent.Hangup(ctx); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("Hangup while incoming = %v", err)
	}
	if err := sup.agent.PlaceCall(ctx, "carl@example.com", media.KindAudio); !errors.Is(err, ErrBusy) {
		t.Fatalf("PlaceCall while incoming = %v", err)
	}

	if err := sup.agent.CancelOrReject(ctx); err != nil {
		t.Fatalf("reject: %v", err)
	}
	h.waitQueued(t, "ann@example.com", 1)
	sigs := h.bus.Drain(ctx, auth.Principal{Email: "ann@example.com", Role: auth.RoleCustomer})
	if len(sigs) != 1 || sigs[0].Type != signalbus.TypeCallRejected {
		t.Fatalf("expected one CALL_REJECTED, got %+v", sigs)
	}
}

func TestCustomerIgnoresInviteFromCustomer(t *testing.T) {
	h := newHarness()
	cust := h.join(t, customerP)
	ctx := context.Background()

	raw, _ := json.Marshal(signalbus.InvitePayload{PeerID: "x", MediaKind: signalbus.MediaVideo})
	sig := signalbus.Signal{From: "bob@example.com", Type: signalbus.TypeCallInvite, Payload: raw, CreatedAt: time.Now()}
	_ = cust.agent.Signals(ctx, []signalbus.Signal{sig})
	_ = cust.agent.Hangup(ctx)
	if got := cust.agent.Snapshot().State; got != StateIdle {
		t.Fatalf("customer rang for another customer: %s", got)
	}
}

func TestPlaceCallValidation(t *testing.T) {
	h := newHarness()
	cust := h.join(t, customerP)
	ctx := context.Background()

	if err := cust.agent.PlaceCall(ctx, "bob@example.com", media.KindAudio); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("customer to customer = %v", err)
	}
	if err := cust.agent.PlaceCall(ctx, auth.SupportIdentity, media.Kind("hologram")); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("bad kind = %v", err)
	}
	if err := cust.agent.PlaceCall(ctx, auth.SupportIdentity, media.KindAudio); err != nil {
		t.Fatalf("PlaceCall: %v", err)
	}
	if err := cust.agent.PlaceCall(ctx, auth.SupportIdentity, media.KindAudio); !errors.Is(err, ErrBusy) {
		t.Fatalf("second PlaceCall = %v", err)
	}
}

func TestMediaFailureKeepsIdle(t *testing.T) {
	h := newHarness()
	cust := h.join(t, customerP)
	ctx := context.Background()

	cust.devices.Fail(media.ErrPermissionDenied)
	err := cust.agent.PlaceCall(ctx, auth.SupportIdentity, media.KindVideo)
	if !errors.Is(err, media.ErrPermissionDenied) {
		t.Fatalf("PlaceCall = %v", err)
	}
	if got := cust.agent.Snapshot().State; got != StateIdle {
		t.Fatalf("state = %s", got)
	}
	if !hasNotice(cust.notices(), NoticeMediaError) {
		t.Fatalf("no media error notice")
	}
	time.Sleep(20 * time.Millisecond)
	if n := h.store.Len(auth.SupportIdentity); n != 0 {
		t.Fatalf("invite sent despite media failure: %d queued", n)
	}
}

func TestAcceptMediaFailureRejects(t *testing.T) {
	h := newHarness()
	cust := h.join(t, customerP)
	sup := h.join(t, supportP)
	ctx := context.Background()

	if err := cust.agent.PlaceCall(ctx, auth.SupportIdentity, media.KindAudio); err != nil {
		t.Fatalf("PlaceCall: %v", err)
	}
	sup.until(t, "incoming", inState(StateIncoming))
	sup.devices.Fail(media.ErrUnavailable)
	if err := sup.agent.Accept(ctx); !errors.Is(err, media.ErrUnavailable) {
		t.Fatalf("Accept = %v", err)
	}
	if got := sup.agent.Snapshot().State; got != StateIdle {
		t.Fatalf("support state = %s", got)
	}
	cust.until(t, "rejected", inState(StateIdle))
	if countSeen(cust.seen, signalbus.TypeCallRejected) != 1 {
		t.Fatalf("customer did not receive CALL_REJECTED: %+v", cust.seen)
	}
	if !hasNotice(cust.notices(), NoticeRejected) {
		t.Fatalf("customer not told about the rejection")
	}
	waitLiveTracks(t, cust, 0)
}

func TestTransportErrorEndsCall(t *testing.T) {
	h := newHarness()
	cust, sup := connect(t, h, media.KindAudio)

	h.net.Break(cust.agent.Endpoint(), errors.New("ice failed"))

	deadline := time.Now().Add(waitTimeout)
	for cust.agent.Snapshot().State != StateIdle {
		if time.Now().After(deadline) {
			t.Fatalf("customer still %s", cust.agent.Snapshot().State)
		}
		time.Sleep(time.Millisecond)
	}
	if !hasNotice(cust.notices(), NoticeTransportError) {
		t.Fatalf("no transport error notice")
	}
	sup.until(t, "support idle", inState(StateIdle))
	if countSeen(sup.seen, signalbus.TypeCallEnded) > 1 {
		t.Fatalf("duplicate CALL_ENDED")
	}
	waitLiveTracks(t, cust, 0)
	waitLiveTracks(t, sup, 0)
}

func TestLegacyFreshnessGate(t *testing.T) {
	h := newHarness()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sup := h.join(t, supportP, func(c *Config) {
		c.Clock = func() time.Time { return now }
		c.FreshnessWindow = 15 * time.Second
	})
	ctx := context.Background()

	stale := chatlog.Observation{MessageID: "m1", Token: chatlog.InviteToken{PeerID: "p1", MediaKind: "video"}, At: now.Add(-16 * time.Second)}
	_ = sup.agent.Legacy(ctx, customerP.Email, stale)
	_ = sup.agent.Hangup(ctx)
	if got := sup.agent.Snapshot().State; got != StateIdle {
		t.Fatalf("stale token rang: %s", got)
	}

	fresh := chatlog.Observation{MessageID: "m2", Token: chatlog.InviteToken{PeerID: "p2", MediaKind: "video"}, At: now.Add(-5 * time.Second)}
	_ = sup.agent.Legacy(ctx, customerP.Email, fresh)
	_ = sup.agent.Hangup(ctx)
	snap := sup.agent.Snapshot()
	if snap.State != StateIncoming || snap.RemoteEndpoint != "p2" || snap.Remote != customerP.Identity() {
		t.Fatalf("fresh token: %+v", snap)
	}
}

func TestStopReleasesActiveCall(t *testing.T) {
	h := newHarness()
	cust, sup := connect(t, h, media.KindVideo)

	cust.stop()
	waitLiveTracks(t, cust, 0)
	if got := cust.agent.Snapshot(); got.State != StateIdle || got.HasLocal || got.HasRemote {
		t.Fatalf("stopped agent kept the call: %+v", got)
	}
	sup.until(t, "support idle", inState(StateIdle))
	waitLiveTracks(t, sup, 0)

	if err := cust.agent.PlaceCall(context.Background(), auth.SupportIdentity, media.KindAudio); !errors.Is(err, ErrStopped) {
		t.Fatalf("PlaceCall after stop = %v", err)
	}
}

func TestSupportRecordsHistory(t *testing.T) {
	h := newHarness()
	cust, sup := connect(t, h, media.KindVideo)
	ctx := context.Background()

	if err := sup.agent.Hangup(ctx); err != nil {
		t.Fatalf("Hangup: %v", err)
	}
	cust.until(t, "customer idle", inState(StateIdle))

	deadline := time.Now().Add(waitTimeout)
	for len(sup.history.Events()) < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("history: %+v", sup.history.Events())
		}
		time.Sleep(time.Millisecond)
	}
	kinds := map[calllog.Kind]int{}
	for _, e := range sup.history.Events() {
		if e.Customer != customerP.Identity() {
			t.Fatalf("event customer = %q", e.Customer)
		}
		kinds[e.Kind]++
	}
	if kinds[calllog.KindStarted] != 1 || kinds[calllog.KindEnded] != 1 {
		t.Fatalf("kinds = %v", kinds)
	}
}

func TestCallerOnlyAnswersInvitedRemote(t *testing.T) {
	h := newHarness()
	cust := h.join(t, customerP)
	sup := h.join(t, supportP)
	ctx := context.Background()

	if err := cust.agent.PlaceCall(ctx, auth.SupportIdentity, media.KindVideo); err != nil {
		t.Fatalf("PlaceCall: %v", err)
	}

	stranger := h.net.Transport()
	if _, err := stranger.Open(ctx); err != nil {
		t.Fatalf("open: %v", err)
	}
	local, _ := media.NewMemoryDevices().Acquire(ctx, media.KindAudio)
	var links []peer.Session
	for _, from := range []string{"", "eve@example.com"} {
		link, err := stranger.Call(ctx, cust.agent.Endpoint(), local, peer.Meta{From: from, MediaKind: media.KindAudio})
		if err != nil {
			t.Fatalf("stranger call: %v", err)
		}
		links = append(links, link)
	}

	time.Sleep(50 * time.Millisecond)
	for _, link := range links {
		select {
		case ev := <-link.Events():
			t.Fatalf("stranger's call was answered: %+v", ev)
		default:
		}
	}
	if snap := cust.agent.Snapshot(); snap.State != StateCalling || snap.HasRemote {
		t.Fatalf("caller changed on a stranger's call: %+v", snap)
	}

	sup.until(t, "incoming", inState(StateIncoming))
	if err := sup.agent.Accept(ctx); err != nil {
		t.Fatalf("Accept: %v", err)
	}
	waitActive(t, cust)
	waitActive(t, sup)
}

// stallingTransport never completes an outgoing call until its context ends.
type stallingTransport struct {
	peer.Transport
	dialing chan struct{}
	once    sync.Once
}

func (s *stallingTransport) Call(ctx context.Context, remote string, local *media.Stream, meta peer.Meta) (peer.Session, error) {
	s.once.Do(func() { close(s.dialing) })
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestCancelArrivesWhileConnecting(t *testing.T) {
	h := newHarness()
	stall := &stallingTransport{Transport: h.net.Transport(), dialing: make(chan struct{})}
	cust := h.join(t, customerP)
	sup := h.join(t, supportP, func(c *Config) { c.Transport = stall })
	ctx := context.Background()

	if err := cust.agent.PlaceCall(ctx, auth.SupportIdentity, media.KindAudio); err != nil {
		t.Fatalf("PlaceCall: %v", err)
	}
	sup.until(t, "incoming", inState(StateIncoming))

	acceptCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := sup.agent.Accept(acceptCtx); err != nil {
		t.Fatalf("Accept: %v", err)
	}
	select {
	case <-stall.dialing:
	case <-time.After(waitTimeout):
		t.Fatalf("accept never dialed")
	}

	// The dial is still pending; the session keeps serving commands and signals.
	if snap := sup.agent.Snapshot(); snap.State != StateIncoming || !snap.Accepted {
		t.Fatalf("unexpected snapshot while connecting: %+v", snap)
	}
	if err := cust.agent.CancelOrReject(ctx); err != nil {
		t.Fatalf("CancelOrReject: %v", err)
	}
	h.waitQueued(t, auth.SupportIdentity, 1)
	sup.until(t, "support idle", inState(StateIdle))
	waitLiveTracks(t, sup, 0)

	time.Sleep(20 * time.Millisecond)
	if hasNotice(sup.notices(), NoticeTransportError) {
		t.Fatalf("abandoned connect reported as a transport error")
	}
	if sup.agent.Snapshot().State != StateIdle {
		t.Fatalf("abandoned connect changed the session")
	}
}
