// Package call runs one participant's call session as a single actor.
//
// The Agent goroutine exclusively owns the session. Signals, legacy chat
// tokens, user commands, peer transport events and audit progress all reach
// it through one event channel, so no two producers mutate the session.
package call

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"support-calls/internal/auth"
	"support-calls/internal/calllog"
	"support-calls/internal/chatlog"
	"support-calls/internal/media"
	"support-calls/internal/peer"
	"support-calls/internal/signalbus"
)

var (
	ErrInvalidArgument = errors.New("call: invalid argument")
	ErrBusy            = errors.New("call: already in a call")
	ErrInvalidState    = errors.New("call: not allowed in current state")
	ErrStopped         = errors.New("call: agent stopped")
)

// Sender delivers outbound signals. Errors are logged and never block a transition.
type Sender interface {
	Send(ctx context.Context, to string, typ signalbus.Type, payload any) error
}

// Recorder appends call history. Optional.
type Recorder interface {
	Record(ctx context.Context, e calllog.Event) error
}

type Config struct {
	Principal auth.Principal
	Bus       Sender
	Transport peer.Transport
	Devices   media.Devices

	History    Recorder
	Challenger Challenger
	Script     []Step
	Dwell      time.Duration

	// FreshnessWindow bounds legacy chat tokens. Defaults to chatlog.DefaultFreshness.
	FreshnessWindow time.Duration

	Logger *slog.Logger
	Clock  func() time.Time
}

func (c *Config) validate() error {
	var errs []error
	if !c.Principal.Valid() {
		errs = append(errs, errors.New("principal is required"))
	}
	if c.Bus == nil {
		errs = append(errs, errors.New("signal sender is required"))
	}
	if c.Transport == nil {
		errs = append(errs, errors.New("peer transport is required"))
	}
	if c.Devices == nil {
		errs = append(errs, errors.New("media devices are required"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidArgument, errors.Join(errs...))
	}

	if c.Challenger == nil {
		c.Challenger = LiveVideoChallenger{}
	}
	if len(c.Script) == 0 {
		c.Script = DefaultScript
	}
	if c.Dwell <= 0 {
		c.Dwell = DefaultDwell
	}
	if c.FreshnessWindow <= 0 {
		c.FreshnessWindow = chatlog.DefaultFreshness
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	return nil
}

const (
	eventQueue  = 64
	noticeQueue = 32
)

type Agent struct {
	cfg      Config
	identity string
	log      *slog.Logger

	events  chan event
	notices chan Notice
	outbox  *outbox

	started  atomic.Bool
	stopped  chan struct{}
	stopOnce sync.Once

	snap atomic.Pointer[Snapshot]
	ep   atomic.Value

	// Owned by the run loop.
	endpoint string
	s        session
	connects uint64
	early    map[string]earlyCall
	wg       sync.WaitGroup
}

func NewAgent(cfg Config) (*Agent, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	a := &Agent{
		cfg:      cfg,
		identity: cfg.Principal.Identity(),
		log:      cfg.Logger.With("component", "call", "identity", cfg.Principal.Identity()),
		events:   make(chan event, eventQueue),
		notices:  make(chan Notice, noticeQueue),
		stopped:  make(chan struct{}),
		early:    map[string]earlyCall{},
	}
	a.s = idleSession()
	a.outbox = newOutbox(cfg.Bus, a.log)
	a.publish()
	return a, nil
}

// Notices streams user-visible notices. Slow readers miss notices rather than
// stall the session.
func (a *Agent) Notices() <-chan Notice { return a.notices }

// Snapshot returns the session as of the last processed event.
func (a *Agent) Snapshot() Snapshot { return *a.snap.Load() }

// Endpoint is the local transport endpoint, empty until Run has opened it.
func (a *Agent) Endpoint() string {
	if ep, ok := a.ep.Load().(string); ok {
		return ep
	}
	return ""
}

func (a *Agent) setEndpoint(ep string) {
	a.endpoint = ep
	a.ep.Store(ep)
}

// Run opens the transport endpoint and processes events until ctx is done.
// On return the session has been torn down: any call is ended with the
// matching signal and every media track is stopped.
func (a *Agent) Run(ctx context.Context) error {
	if !a.started.CompareAndSwap(false, true) {
		return errors.New("call: agent already running")
	}
	defer a.stopOnce.Do(func() { close(a.stopped) })

	endpoint, err := a.cfg.Transport.Open(ctx)
	if err != nil {
		return fmt.Errorf("open transport: %w", err)
	}
	a.setEndpoint(endpoint)
	a.log.Info("call agent started", "endpoint", endpoint)

	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		a.outbox.run()
	}()
	go func() {
		defer a.wg.Done()
		a.forwardIncoming()
	}()

	for {
		select {
		case <-ctx.Done():
			a.teardown()
			return nil
		case ev := <-a.events:
			a.dispatch(ev)
			a.publish()
		}
	}
}

// teardown ends any call with hangup semantics and waits for the outbox to flush.
func (a *Agent) teardown() {
	teardownCtx, cancel := context.WithTimeout(context.Background(), outboxSendTimeout)
	defer cancel()
	if a.s.state != StateIdle {
		_ = a.end(teardownCtx)
	}
	a.release()
	a.publish()

	a.stopOnce.Do(func() { close(a.stopped) })
	a.outbox.close()
	a.wg.Wait()
	a.log.Info("call agent stopped")
}

// Signals feeds one drained SignalBus batch, oldest first, into the session.
func (a *Agent) Signals(ctx context.Context, sigs []signalbus.Signal) error {
	if len(sigs) == 0 {
		return nil
	}
	return a.post(ctx, signalEvent{sigs: sigs})
}

// Legacy feeds a chat-embedded control token observed in from's thread.
func (a *Agent) Legacy(ctx context.Context, from string, obs chatlog.Observation) error {
	return a.post(ctx, legacyEvent{from: from, obs: obs})
}

func (a *Agent) PlaceCall(ctx context.Context, remote string, kind media.Kind) error {
	return a.do(ctx, func(ctx context.Context) error { return a.placeCall(ctx, remote, kind) })
}

func (a *Agent) Accept(ctx context.Context) error {
	return a.do(ctx, a.accept)
}

func (a *Agent) CancelOrReject(ctx context.Context) error {
	return a.do(ctx, a.cancelOrReject)
}

func (a *Agent) Hangup(ctx context.Context) error {
	return a.do(ctx, a.hangup)
}

// End leaves whatever call is in progress with the matching signal.
func (a *Agent) End(ctx context.Context) error {
	return a.do(ctx, a.end)
}

func (a *Agent) RequestVerification(ctx context.Context) error {
	return a.do(ctx, a.requestVerification)
}

func (a *Agent) do(ctx context.Context, fn func(context.Context) error) error {
	reply := make(chan error, 1)
	if err := a.post(ctx, commandEvent{ctx: ctx, run: fn, reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-a.stopped:
		return ErrStopped
	}
}

func (a *Agent) post(ctx context.Context, ev event) error {
	select {
	case a.events <- ev:
		return nil
	case <-a.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Agent) notify(kind NoticeKind, remote, msg string, err error) {
	n := Notice{Kind: kind, Remote: remote, Message: msg, Err: err, At: a.cfg.Clock().UTC()}
	select {
	case a.notices <- n:
	default:
		a.log.Debug("notice dropped", "kind", kind)
	}
}

func (a *Agent) publish() {
	snap := a.s.snapshot()
	a.snap.Store(&snap)
}

func (a *Agent) forwardIncoming() {
	in := a.cfg.Transport.Incoming()
	for {
		select {
		case <-a.stopped:
			return
		case call, ok := <-in:
			if !ok {
				return
			}
			if a.post(context.Background(), incomingEvent{in: call}) != nil {
				return
			}
		}
	}
}

// watch forwards one low-level session's events until its channel closes.
func (a *Agent) watch(link peer.Session) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		for ev := range link.Events() {
			if a.post(context.Background(), linkEvent{link: link, ev: ev}) != nil {
				return
			}
		}
	}()
}

func (a *Agent) record(kind calllog.Kind) {
	if a.cfg.History == nil || a.s.remote == "" {
		return
	}
	customer := a.identity
	if a.cfg.Principal.IsSupport() {
		customer = a.s.remote
	}
	e := calllog.Event{
		Customer:  customer,
		Actor:     a.identity,
		Kind:      kind,
		MediaKind: string(a.s.kind),
		CreatedAt: a.cfg.Clock().UTC(),
	}
	history := a.cfg.History
	log := a.log
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), outboxSendTimeout)
		defer cancel()
		if err := history.Record(ctx, e); err != nil {
			log.Warn("call history write failed", "kind", kind, "err", err)
		}
	}()
}
