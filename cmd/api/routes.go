package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"support-calls/internal/auth"
	"support-calls/internal/calllog"
	"support-calls/internal/chatlog"
	"support-calls/internal/config"
	"support-calls/internal/httpapi"
	"support-calls/internal/peer"
	"support-calls/internal/signalbus"
	"support-calls/pkg/utils"

	"github.com/gin-gonic/gin"
)

// stores holds the backends selected by config. Closers run in reverse order.
type stores struct {
	signals *signalbus.Service
	chat    *chatlog.Service
	calls   *calllog.Service
	broker  peer.Broker

	closers []func() error
}

func (s *stores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		_ = s.closers[i]()
	}
}

func openStores(ctx context.Context, cfg config.Config, log *slog.Logger) (*stores, error) {
	s := &stores{}

	switch cfg.Signal.Store {
	case config.StoreRedis:
		rdb, err := utils.OpenRedis(ctx, utils.RedisConfig{Addr: cfg.RedisAddr(), Password: cfg.Redis.Password})
		if err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		s.closers = append(s.closers, rdb.Close)
		s.signals = signalbus.NewService(signalbus.NewRedisStore(rdb, cfg.Signal.TTL), cfg.Signal.TTL, log)
		s.broker = peer.NewRedisBroker(rdb)
	default:
		s.signals = signalbus.NewService(signalbus.NewMemoryStore(), cfg.Signal.TTL, log)
		s.broker = peer.NewMemoryBroker()
	}

	switch cfg.Chat.Store {
	case config.StorePostgres:
		db, err := openPostgres(ctx, cfg)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.closers = append(s.closers, db.Close)
		s.chat = chatlog.NewService(chatlog.NewPostgresRepo(db))
		s.calls = calllog.NewService(calllog.NewPostgresRepo(db))
	default:
		s.chat = chatlog.NewService(chatlog.NewMemoryRepo())
		s.calls = calllog.NewService(calllog.NewMemoryRepo())
	}
	return s, nil
}

func openPostgres(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	db, err := utils.OpenPostgres(ctx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	schema := append(append([]string{}, chatlog.Schema...), calllog.Schema...)
	if err := utils.Migrate(ctx, db, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres migrate: %w", err)
	}
	return db, nil
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, s *stores, m *auth.Manager, allowLogin bool) {
	h := httpapi.Handlers{
		Auth:       m,
		Signals:    s.signals,
		Chat:       s.chat,
		Calls:      s.calls,
		Broker:     s.broker,
		AllowLogin: allowLogin,
	}
	h.Register(r, auth.RequireAccessToken(m))
}
