// Package main our entry point.
package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/johndosdos/roomchat/internal/chat"
	"github.com/johndosdos/roomchat/internal/config"
	"github.com/johndosdos/roomchat/internal/handler"
	"github.com/johndosdos/roomchat/internal/logging"
	ratelimiter "github.com/johndosdos/roomchat/internal/rate_limiter"
	"github.com/johndosdos/roomchat/internal/room"
	"github.com/johndosdos/roomchat/internal/store"
	ws "github.com/johndosdos/roomchat/internal/websocket"
)

func main() {
	if err := run(); err != nil {
		logging.L().Fatal().Err(err).Msg("server stopped")
	}
}

func run() error {
	cfg, err := config.Load(".")
	if err != nil {
		return err
	}

	logging.Init(logging.Config{
		Level:       cfg.LogLevel,
		Pretty:      cfg.LogPretty,
		ServiceName: "roomchat",
	})
	log := logging.L()
	log.Info().Msg("Starting application...")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	msgStore, cleanup, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	reg := room.NewRegistry()
	hub := chat.NewHub(msgStore, reg, chat.WithPersistTimeout(cfg.PersistTimeout))

	limiter := ratelimiter.NewIPRateLimiter(cfg.IPRate.Requests, cfg.IPRate.Window, ratelimiter.CleanupOpts{
		TTL:      3 * cfg.IPRate.Window,
		Interval: cfg.IPRate.Window,
	})
	defer limiter.Stop()

	server := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       30 * time.Second,
		Handler: handler.NewRouter(handler.Deps{
			Registry:  reg,
			Hub:       hub,
			Logger:    *log,
			IPLimiter: limiter,
			Ws: handler.WsOptions{
				OriginPatterns: cfg.AllowedOrigins,
				ReadLimit:      cfg.MaxMessageSize,
				Session: ws.Options{
					SendBuffer:      cfg.SendBuffer,
					WriteTimeout:    cfg.WriteTimeout,
					PingInterval:    cfg.PingInterval,
					MessageRequests: cfg.MessageRate.Requests,
					MessageWindow:   cfg.MessageRate.Window,
				},
			},
			SSEBuffer: cfg.SendBuffer,
		}),
		// Websocket and SSE handlers live for the whole connection, so
		// connections are bound to the process context instead of
		// read/write deadlines.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("addr", server.Addr).Msg("Server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutdown signal received; shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}

	log.Info().Msg("Server stopped")
	return nil
}

// openStore builds the configured message store, optionally fronted by the
// Redis history cache. The returned func releases its connections.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, func(), error) {
	log := logging.L()

	var (
		s       store.Store
		closers []func()
		cleanup = func() {
			for i := len(closers) - 1; i >= 0; i-- {
				closers[i]()
			}
		}
	)

	switch cfg.StoreDriver {
	case config.DriverMemory:
		log.Warn().Msg("using in-memory message store; history is lost on restart")
		s = store.NewMemory()

	default:
		log.Info().Msg("Initializing Database connection...")

		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		closers = append(closers, pool.Close)

		if err := store.Migrate(ctx, pool); err != nil {
			cleanup()
			return nil, nil, err
		}
		s = store.NewPostgres(pool)
	}

	if cfg.RedisAddr != "" {
		log.Info().Str("addr", cfg.RedisAddr).Msg("Initializing history cache...")

		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		closers = append(closers, func() {
			if err := client.Close(); err != nil {
				log.Warn().Err(err).Msg("failed to close redis client")
			}
		})

		if err := client.Ping(ctx).Err(); err != nil {
			// The cache falls back to the store on every miss, so keep going.
			log.Warn().Err(err).Msg("redis unreachable; history will be served from the store")
		}
		s = store.NewCached(s, client, cfg.HistoryCacheTTL)
	}

	return s, cleanup, nil
}
