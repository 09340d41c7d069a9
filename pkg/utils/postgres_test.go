package utils

import (
	"testing"
	"time"
)

func TestPostgresPoolConfig_Defaults(t *testing.T) {
	c := PostgresPoolConfig{}.withDefaults()
	if c.MaxOpenConns != 20 || c.MaxIdleConns != 20 {
		t.Fatalf("unexpected pool sizes: %+v", c)
	}
	if c.PingTimeout != 5*time.Second {
		t.Fatalf("expected 5s ping timeout, got %s", c.PingTimeout)
	}
}

func TestPostgresPoolConfig_KeepsExplicitValues(t *testing.T) {
	c := PostgresPoolConfig{MaxOpenConns: 4, ConnMaxLifetime: time.Minute}.withDefaults()
	if c.MaxOpenConns != 4 || c.MaxIdleConns != 4 {
		t.Fatalf("expected idle conns to follow open conns, got %+v", c)
	}
	if c.ConnMaxLifetime != time.Minute {
		t.Fatalf("expected explicit lifetime kept, got %s", c.ConnMaxLifetime)
	}
}
