package utils

import (
	"context"
	"testing"
	"time"
)

func TestListScriptsCompile(t *testing.T) {
	if pushWithTTLScript == nil || claimListScript == nil {
		t.Fatalf("expected scripts to be initialized")
	}
}

func TestRedisConfig_Defaults(t *testing.T) {
	c := RedisConfig{Addr: "localhost:6379"}.withDefaults()
	if c.PoolSize != 20 {
		t.Fatalf("expected pool size 20, got %d", c.PoolSize)
	}
	if c.PingTimeout != 2*time.Second {
		t.Fatalf("expected 2s ping timeout, got %s", c.PingTimeout)
	}
}

func TestListHelpers_RejectBadArgs(t *testing.T) {
	ctx := context.Background()
	if err := PushWithTTL(ctx, nil, "k", "v", time.Second); err == nil {
		t.Fatalf("expected error for nil client")
	}
	if _, err := ClaimList(ctx, nil, "k"); err == nil {
		t.Fatalf("expected error for nil client")
	}
}
