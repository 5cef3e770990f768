package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"bhabi-server/internal/bhabi"
	"bhabi-server/internal/config"
	"bhabi-server/internal/store"
)

// GameStore is the full persistence surface the server wires up: session
// snapshots, result recording, and the leaderboard. Both the postgres and the
// in-memory store satisfy it.
type GameStore interface {
	bhabi.SessionStore
	bhabi.ResultRecorder
	Leaderboard(ctx context.Context, limit int) ([]store.PlayerStats, error)
	Ping(ctx context.Context) error
	Close()
}

type Server struct {
	cfg         *config.Config
	log         *zap.Logger
	store       GameStore
	engine      *bhabi.Engine
	connections *ConnectionManager
	broadcaster *WSBroadcaster
	limiter     *RateLimiter
}

// New wires the store, engine, and websocket plumbing, and returns the
// http.Server ready to listen. Without a DATABASE_URL the session lives in
// process memory only.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*Server, *http.Server, error) {
	var gameStore GameStore
	if cfg.Database.URL == "" {
		log.Warn("no DATABASE_URL configured, game state will not survive restarts")
		gameStore = store.NewMemory()
	} else {
		pg, err := store.NewPostgres(ctx, cfg.Database.URL, log)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize postgres store: %w", err)
		}
		gameStore = pg
	}

	connections := NewConnectionManager()
	broadcaster := NewWSBroadcaster(connections, log)
	engine := bhabi.NewEngine(gameStore, broadcaster, gameStore, cfg.Game.SettleDelay, log)

	s := &Server{
		cfg:         cfg,
		log:         log,
		store:       gameStore,
		engine:      engine,
		connections: connections,
		broadcaster: broadcaster,
		limiter:     NewRateLimiter(cfg.Game.RateLimit, time.Second),
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      s.RegisterRoutes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	return s, httpServer, nil
}

// Shutdown drains the broadcaster and releases the store. The http server is
// shut down separately by the caller.
func (s *Server) Shutdown(ctx context.Context) error {
	s.broadcaster.Close()
	s.store.Close()
	s.log.Info("server shutdown complete")
	return nil
}
