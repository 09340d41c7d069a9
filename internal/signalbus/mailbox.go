package signalbus

import (
	"context"

	"support-calls/internal/auth"
)

// Mailbox binds the bus to one principal so in-process participants can use
// it the same way remote ones use the HTTP client.
type Mailbox struct {
	svc *Service
	p   auth.Principal
}

func (s *Service) Mailbox(p auth.Principal) *Mailbox { return &Mailbox{svc: s, p: p} }

func (m *Mailbox) Send(ctx context.Context, to string, typ Type, payload any) error {
	_, err := m.svc.Send(ctx, m.p, to, typ, payload)
	return err
}

func (m *Mailbox) Drain(ctx context.Context) ([]Signal, error) {
	return m.svc.Drain(ctx, m.p), nil
}
