package signalbus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"support-calls/internal/auth"
	"support-calls/pkg/logger"
)

var (
	customer = auth.Principal{Email: "ann@example.com", Name: "Ann", Role: auth.RoleCustomer}
	support  = auth.Principal{Email: "ops@shop.test", Name: "Ops", Role: auth.RoleSupport}
)

func newTestService(store Store) (*Service, *time.Time) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	svc := NewService(store, DefaultTTL, logger.Discard())
	svc.clock = func() time.Time { return now }
	return svc, &now
}

func TestDrain_IsDestructive(t *testing.T) {
	svc, _ := newTestService(NewMemoryStore())
	ctx := context.Background()

	if _, err := svc.Send(ctx, customer, auth.SupportIdentity, TypeCallInvite, InvitePayload{PeerID: "p1", MediaKind: MediaVideo}); err != nil {
		t.Fatalf("send: %v", err)
	}

	first := svc.Drain(ctx, support)
	if len(first) != 1 {
		t.Fatalf("expected 1 signal, got %d", len(first))
	}
	if first[0].From != "ann@example.com" || first[0].To != auth.SupportIdentity {
		t.Fatalf("unexpected routing: %+v", first[0])
	}
	inv, err := first[0].Invite()
	if err != nil || inv.PeerID != "p1" || inv.MediaKind != MediaVideo {
		t.Fatalf("unexpected invite %+v err=%v", inv, err)
	}

	if second := svc.Drain(ctx, support); len(second) != 0 {
		t.Fatalf("second drain returned %d signals", len(second))
	}
}

func TestDrain_SkipsExpired(t *testing.T) {
	svc, now := newTestService(NewMemoryStore())
	ctx := context.Background()

	if _, err := svc.Send(ctx, support, customer.Email, TypeCallInvite, InvitePayload{PeerID: "p", MediaKind: MediaAudio}); err != nil {
		t.Fatalf("send: %v", err)
	}
	*now = now.Add(DefaultTTL + time.Second)

	if got := svc.Drain(ctx, customer); len(got) != 0 {
		t.Fatalf("expired signal returned: %+v", got)
	}
}

func TestDrain_OrdersOldestFirst(t *testing.T) {
	store := NewMemoryStore()
	svc, now := newTestService(store)
	ctx := context.Background()

	base := *now
	// Appended out of order on purpose.
	for _, off := range []time.Duration{3 * time.Second, time.Second, 2 * time.Second} {
		_ = store.Append(ctx, Signal{ID: off.String(), From: "support", To: customer.Email, Type: TypeVerifyStep, CreatedAt: base.Add(off)})
	}
	*now = base.Add(5 * time.Second)

	got := svc.Drain(ctx, customer)
	if len(got) != 3 {
		t.Fatalf("expected 3, got %d", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].CreatedAt.Before(got[i-1].CreatedAt) {
			t.Fatalf("not oldest-first: %v before %v", got[i].CreatedAt, got[i-1].CreatedAt)
		}
	}
}

func TestDrain_ConcurrentConsumersSeeEachSignalOnce(t *testing.T) {
	svc, _ := newTestService(NewMemoryStore())
	ctx := context.Background()

	const n = 50
	for i := 0; i < n; i++ {
		if _, err := svc.Send(ctx, customer, auth.SupportIdentity, TypeCallEnded, nil); err != nil {
			t.Fatalf("send: %v", err)
		}
	}

	var (
		mu   sync.Mutex
		seen = map[string]int{}
		wg   sync.WaitGroup
	)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, sig := range svc.Drain(ctx, support) {
				mu.Lock()
				seen[sig.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != n {
		t.Fatalf("expected %d distinct signals, got %d", n, len(seen))
	}
	for id, c := range seen {
		if c != 1 {
			t.Fatalf("signal %s observed %d times", id, c)
		}
	}
}

func TestSend_RejectsInvalidRoutes(t *testing.T) {
	svc, _ := newTestService(NewMemoryStore())
	ctx := context.Background()

	cases := []struct {
		name string
		from auth.Principal
		to   string
		typ  Type
	}{
		{"customer to customer", customer, "bob@example.com", TypeCallInvite},
		{"support to support", support, auth.SupportIdentity, TypeCallInvite},
		{"empty recipient", customer, " ", TypeCallEnded},
		{"unknown type", customer, auth.SupportIdentity, Type("CALL_HELD")},
		{"anonymous sender", auth.Principal{}, auth.SupportIdentity, TypeCallEnded},
	}
	for _, tc := range cases {
		if _, err := svc.Send(ctx, tc.from, tc.to, tc.typ, nil); !errors.Is(err, ErrInvalidArgument) {
			t.Fatalf("%s: expected ErrInvalidArgument, got %v", tc.name, err)
		}
	}
}

func TestSend_NormalizesRecipient(t *testing.T) {
	svc, _ := newTestService(NewMemoryStore())
	ctx := context.Background()

	if _, err := svc.Send(ctx, support, " Ann@Example.com ", TypeCallEnded, nil); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got := svc.Drain(ctx, customer); len(got) != 1 {
		t.Fatalf("expected normalized delivery, got %d", len(got))
	}
}

type failingStore struct{}

func (failingStore) Append(ctx context.Context, sig Signal) error { return errors.New("down") }
func (failingStore) Claim(ctx context.Context, identity string) ([]Signal, error) {
	return nil, errors.New("down")
}

func TestDrain_StorageErrorIsSilence(t *testing.T) {
	svc, _ := newTestService(failingStore{})
	if got := svc.Drain(context.Background(), support); got != nil {
		t.Fatalf("expected nil on storage error, got %+v", got)
	}
	if _, err := svc.Send(context.Background(), customer, auth.SupportIdentity, TypeCallEnded, nil); err == nil {
		t.Fatalf("expected send error to surface to caller")
	}
}

func TestMemoryStore_PurgeRemovesExpired(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	_ = store.Append(ctx, Signal{ID: "old", To: "support", CreatedAt: now.Add(-10 * time.Minute)})
	_ = store.Append(ctx, Signal{ID: "new", To: "support", CreatedAt: now})

	n, err := store.Purge(ctx, now.Add(-DefaultTTL))
	if err != nil || n != 1 {
		t.Fatalf("expected 1 purged, got %d err=%v", n, err)
	}
	if store.Len("support") != 1 {
		t.Fatalf("expected 1 remaining, got %d", store.Len("support"))
	}
}

func TestInvite_AcceptsLegacyTypeKey(t *testing.T) {
	sig := Signal{Type: TypeCallInvite, Payload: []byte(`{"peerId":"abc","type":"audio"}`)}
	inv, err := sig.Invite()
	if err != nil {
		t.Fatalf("invite: %v", err)
	}
	if inv.MediaKind != MediaAudio {
		t.Fatalf("expected audio, got %q", inv.MediaKind)
	}

	if _, err := (Signal{Type: TypeCallInvite, Payload: []byte(`{"peerId":""}`)}).Invite(); err == nil {
		t.Fatalf("expected error for empty invite")
	}
}
