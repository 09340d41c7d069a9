package calllog

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for call events. It MUST be
// append-only; there are no Update or Delete methods.
type Repository interface {
	Append(ctx context.Context, e Event) error
	List(ctx context.Context, f Filter) ([]Event, error)
}

// Service records call history. It replaces the old practice of writing
// history lines into chat transcripts.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("calllog: invalid event")

func (s *Service) Append(ctx context.Context, e Event) (Event, error) {
	if s.repo == nil {
		return Event{}, errors.New("calllog: repository not configured")
	}
	if e.Customer == "" || e.Actor == "" || !e.Kind.Valid() {
		return Event{}, ErrInvalidEvent
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	if e.Message == "" {
		e.Message = Describe(e.Kind, e.MediaKind)
	}
	if err := s.repo.Append(ctx, e); err != nil {
		return Event{}, err
	}
	return e, nil
}

// History lists events oldest-first.
func (s *Service) History(ctx context.Context, f Filter) ([]Event, error) {
	if s.repo == nil {
		return nil, errors.New("calllog: repository not configured")
	}
	return s.repo.List(ctx, f)
}

// Summary counts call outcomes. A call that reached "ended" counts as completed.
func (s *Service) Summary(ctx context.Context, f Filter) (Summary, error) {
	if !f.Range.From.IsZero() && !f.Range.To.IsZero() && !f.Range.From.Before(f.Range.To) {
		return Summary{}, ErrInvalidEvent
	}
	evs, err := s.History(ctx, f)
	if err != nil {
		return Summary{}, err
	}

	out := Summary{Customer: f.Customer, Range: f.Range}
	customers := map[string]struct{}{}
	for _, e := range evs {
		customers[e.Customer] = struct{}{}
		switch e.Kind {
		case KindStarted:
			out.StartedCalls++
		case KindEnded:
			out.CompletedCalls++
		case KindCancelled:
			out.CancelledCalls++
		case KindMissed:
			out.MissedCalls++
		case KindRejected:
			out.RejectedCalls++
		case KindVerified:
			out.Verifications++
		case KindVerifyFailed:
			out.Verifications++
			out.FailedVerifications++
		}
	}
	out.Customers = len(customers)
	return out, nil
}

// Record is Append for callers that only care about failure.
func (s *Service) Record(ctx context.Context, e Event) error {
	_, err := s.Append(ctx, e)
	return err
}
