package signalbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"support-calls/internal/auth"
	"support-calls/pkg/logger"

	"github.com/google/uuid"
)

var (
	ErrInvalidArgument = errors.New("signalbus: invalid argument")
	ErrNotConfigured   = errors.New("signalbus: store not configured")
)

// DefaultTTL is the horizon after which an undrained signal is garbage.
const DefaultTTL = 5 * time.Minute

// Store persists pending signals per recipient.
//
// Claim MUST be an atomic read-and-delete: a signal returned to one caller is
// never visible to another.
type Store interface {
	Append(ctx context.Context, sig Signal) error
	Claim(ctx context.Context, identity string) ([]Signal, error)
}

// Purger is implemented by stores that need an explicit expiry sweep.
type Purger interface {
	Purge(ctx context.Context, before time.Time) (int, error)
}

// Service is the destructive-read mailbox between a customer and support.
type Service struct {
	store Store
	ttl   time.Duration
	clock func() time.Time
	log   *slog.Logger
}

func NewService(store Store, ttl time.Duration, log *slog.Logger) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{store: store, ttl: ttl, clock: time.Now, log: logger.Component(log, "signalbus")}
}

func (s *Service) TTL() time.Duration { return s.ttl }

// Send appends a signal from the principal to recipient.
//
// A customer may only address support; support may address any customer but
// never itself.
func (s *Service) Send(ctx context.Context, from auth.Principal, to string, typ Type, payload any) (Signal, error) {
	if s.store == nil {
		return Signal{}, ErrNotConfigured
	}
	if !from.Valid() {
		return Signal{}, fmt.Errorf("%w: sender", ErrInvalidArgument)
	}
	to = normalizeIdentity(to)
	if to == "" {
		return Signal{}, fmt.Errorf("%w: recipient required", ErrInvalidArgument)
	}
	if !typ.Valid() {
		return Signal{}, fmt.Errorf("%w: unknown type %q", ErrInvalidArgument, typ)
	}
	if from.IsSupport() == (to == auth.SupportIdentity) {
		return Signal{}, fmt.Errorf("%w: no route from %s to %s", ErrInvalidArgument, from.Identity(), to)
	}
	raw, err := EncodePayload(payload)
	if err != nil {
		return Signal{}, err
	}

	sig := Signal{
		ID:        uuid.NewString(),
		From:      from.Identity(),
		To:        to,
		Type:      typ,
		Payload:   raw,
		CreatedAt: s.clock().UTC(),
	}
	if err := s.store.Append(ctx, sig); err != nil {
		return Signal{}, fmt.Errorf("signalbus: append: %w", err)
	}
	return sig, nil
}

// Drain returns every live signal addressed to the principal, oldest first, and
// removes them. Storage errors are logged and read as "nothing new".
func (s *Service) Drain(ctx context.Context, p auth.Principal) []Signal {
	if s.store == nil || !p.Valid() {
		return nil
	}
	identity := p.Identity()

	sigs, err := s.store.Claim(ctx, identity)
	if err != nil {
		s.log.WarnContext(ctx, "signal drain failed", "identity", identity, "err", err)
		return nil
	}

	cutoff := s.clock().Add(-s.ttl)
	out := make([]Signal, 0, len(sigs))
	for _, sig := range sigs {
		if sig.CreatedAt.Before(cutoff) {
			continue
		}
		out = append(out, sig)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// RunSweeper purges expired signals every interval until ctx is done. Stores
// that expire entries on their own make this a no-op.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) {
	purger, ok := s.store.(Purger)
	if !ok || interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := purger.Purge(ctx, s.clock().Add(-s.ttl))
			if err != nil {
				s.log.WarnContext(ctx, "signal sweep failed", "err", err)
				continue
			}
			if n > 0 {
				s.log.DebugContext(ctx, "expired signals purged", "count", n)
			}
		}
	}
}

func normalizeIdentity(id string) string {
	id = strings.TrimSpace(id)
	if id == auth.SupportIdentity {
		return id
	}
	return auth.NormalizeEmail(id)
}
