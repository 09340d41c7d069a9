package peer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"support-calls/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// Broker carries SDP between endpoints. Connection setup uses vanilla ICE:
// every candidate is gathered before the SDP is published, so one offer and
// one answer are enough.
//
// Claim MUST remove what it returns.
type Broker interface {
	Publish(ctx context.Context, to string, env Envelope) error
	Claim(ctx context.Context, endpoint string) ([]Envelope, error)
}

type EnvelopeKind string

const (
	EnvelopeOffer  EnvelopeKind = "offer"
	EnvelopeAnswer EnvelopeKind = "answer"
	EnvelopeHangup EnvelopeKind = "hangup"
)

func (k EnvelopeKind) Valid() bool {
	return k == EnvelopeOffer || k == EnvelopeAnswer || k == EnvelopeHangup
}

type Envelope struct {
	Kind      EnvelopeKind `json:"kind"`
	From      string       `json:"from"`
	SessionID string       `json:"sessionId"`
	SDP       string       `json:"sdp,omitempty"`
	Meta      Meta         `json:"meta"`
}

// BrokerTTL bounds how long an unclaimed envelope is kept.
const BrokerTTL = 2 * time.Minute

// Compile-time interface checks.
var (
	_ Broker = (*MemoryBroker)(nil)
	_ Broker = (*RedisBroker)(nil)
)

// MemoryBroker is an in-process Broker for tests and local dev.
type MemoryBroker struct {
	mu      sync.Mutex
	pending map[string][]Envelope
}

func NewMemoryBroker() *MemoryBroker { return &MemoryBroker{pending: map[string][]Envelope{}} }

func (b *MemoryBroker) Publish(_ context.Context, to string, env Envelope) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending[to] = append(b.pending[to], env)
	return nil
}

func (b *MemoryBroker) Claim(_ context.Context, endpoint string) ([]Envelope, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.pending[endpoint]
	delete(b.pending, endpoint)
	return out, nil
}

const brokerKeyPrefix = "peer:"

// RedisBroker keeps one list per endpoint, using the same push/claim scripts
// as the signal store.
type RedisBroker struct {
	rdb redis.Scripter
}

func NewRedisBroker(rdb redis.Scripter) *RedisBroker { return &RedisBroker{rdb: rdb} }

func (b *RedisBroker) Publish(ctx context.Context, to string, env Envelope) error {
	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return utils.PushWithTTL(ctx, b.rdb, brokerKeyPrefix+to, string(raw), BrokerTTL)
}

func (b *RedisBroker) Claim(ctx context.Context, endpoint string) ([]Envelope, error) {
	items, err := utils.ClaimList(ctx, b.rdb, brokerKeyPrefix+endpoint)
	if err != nil {
		return nil, fmt.Errorf("claim %s: %w", endpoint, err)
	}
	out := make([]Envelope, 0, len(items))
	for _, item := range items {
		var env Envelope
		if err := json.Unmarshal([]byte(item), &env); err != nil {
			continue
		}
		out = append(out, env)
	}
	return out, nil
}
