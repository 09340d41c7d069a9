// Package poller drives a participant's call session from the two polled
// channels: the signal mailbox and, for legacy transcripts, the chat log.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"support-calls/internal/auth"
	"support-calls/internal/chatlog"
	"support-calls/internal/signalbus"
)

const (
	DefaultSignalInterval       = 2 * time.Second
	DefaultCustomerChatInterval = 3 * time.Second
	DefaultSupportChatInterval  = 5 * time.Second
)

var ErrInvalidArgument = errors.New("poller: invalid argument")

// SignalSource drains the principal's mailbox.
type SignalSource interface {
	Drain(ctx context.Context) ([]signalbus.Signal, error)
}

// ChatSource returns the messages the principal can see: their own thread
// for a customer, every thread for support.
type ChatSource interface {
	Messages(ctx context.Context) ([]chatlog.Message, error)
}

type ChatSourceFunc func(ctx context.Context) ([]chatlog.Message, error)

func (f ChatSourceFunc) Messages(ctx context.Context) ([]chatlog.Message, error) { return f(ctx) }

// Sink is the session owner.
type Sink interface {
	Signals(ctx context.Context, sigs []signalbus.Signal) error
	Legacy(ctx context.Context, from string, obs chatlog.Observation) error
}

type Config struct {
	Principal auth.Principal
	Signals   SignalSource
	// Chat is optional; without it only the mailbox is polled.
	Chat ChatSource

	SignalInterval  time.Duration
	ChatInterval    time.Duration
	FreshnessWindow time.Duration

	Logger *slog.Logger
	Clock  func() time.Time
}

// Loop runs the signal and chat tickers. Each ticker runs on its own
// goroutine so a tick never overlaps the previous tick of the same kind.
type Loop struct {
	cfg  Config
	sink Sink
	log  *slog.Logger

	mu   sync.Mutex
	seen map[string]time.Time
}

func New(cfg Config, sink Sink) (*Loop, error) {
	if !cfg.Principal.Valid() {
		return nil, fmt.Errorf("%w: principal is required", ErrInvalidArgument)
	}
	if cfg.Signals == nil || sink == nil {
		return nil, fmt.Errorf("%w: signal source and sink are required", ErrInvalidArgument)
	}
	if cfg.SignalInterval <= 0 {
		cfg.SignalInterval = DefaultSignalInterval
	}
	if cfg.ChatInterval <= 0 {
		cfg.ChatInterval = DefaultCustomerChatInterval
		if cfg.Principal.IsSupport() {
			cfg.ChatInterval = DefaultSupportChatInterval
		}
	}
	if cfg.FreshnessWindow <= 0 {
		cfg.FreshnessWindow = chatlog.DefaultFreshness
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Loop{
		cfg:  cfg,
		sink: sink,
		log:  cfg.Logger.With("component", "poller", "identity", cfg.Principal.Identity()),
		seen: map[string]time.Time{},
	}, nil
}

// Run polls until ctx is done and returns once both tickers have stopped.
func (l *Loop) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		l.every(ctx, l.cfg.SignalInterval, l.pollSignals)
	}()
	if l.cfg.Chat != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.every(ctx, l.cfg.ChatInterval, l.pollChat)
		}()
	}
	l.log.Info("polling started", "signal_interval", l.cfg.SignalInterval, "chat_interval", l.cfg.ChatInterval)
	wg.Wait()
	l.log.Info("polling stopped")
	return nil
}

func (l *Loop) every(ctx context.Context, interval time.Duration, tick func(context.Context)) {
	tick(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick(ctx)
		}
	}
}

func (l *Loop) pollSignals(ctx context.Context) {
	sigs, err := l.cfg.Signals.Drain(ctx)
	if err != nil {
		if ctx.Err() == nil {
			l.log.Warn("signal poll failed", "err", err)
		}
		return
	}
	if len(sigs) == 0 {
		return
	}
	l.log.Debug("signals received", "count", len(sigs))
	if err := l.sink.Signals(ctx, sigs); err != nil && ctx.Err() == nil {
		l.log.Warn("signals not delivered", "count", len(sigs), "err", err)
	}
}

func (l *Loop) pollChat(ctx context.Context) {
	msgs, err := l.cfg.Chat.Messages(ctx)
	if err != nil {
		if ctx.Err() == nil {
			l.log.Warn("chat poll failed", "err", err)
		}
		return
	}
	now := l.cfg.Clock()
	l.prune(now)

	if !l.cfg.Principal.IsSupport() {
		l.forward(ctx, auth.SupportIdentity, chatlog.FreshTokens(msgs, auth.RoleCustomer, now, l.cfg.FreshnessWindow))
		return
	}
	for _, conv := range chatlog.GroupByParty(msgs) {
		l.forward(ctx, conv.Email, chatlog.FreshTokens(conv.Messages, auth.RoleSupport, now, l.cfg.FreshnessWindow))
	}
}

func (l *Loop) forward(ctx context.Context, from string, observations []chatlog.Observation) {
	for _, obs := range observations {
		if !l.markSeen(obs) {
			continue
		}
		if err := l.sink.Legacy(ctx, from, obs); err != nil {
			if ctx.Err() == nil {
				l.log.Warn("chat token not delivered", "from", from, "err", err)
			}
			return
		}
	}
}

// markSeen reports whether obs is new.
func (l *Loop) markSeen(obs chatlog.Observation) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.seen[obs.Key()]; ok {
		return false
	}
	l.seen[obs.Key()] = obs.At
	return true
}

// prune forgets observations too old to ever be fresh again.
func (l *Loop) prune(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for k, at := range l.seen {
		if now.Sub(at) > 2*l.cfg.FreshnessWindow {
			delete(l.seen, k)
		}
	}
}
