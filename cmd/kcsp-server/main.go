package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/Sternrassler/kcsp-cache/pkg/breaker"
	"github.com/Sternrassler/kcsp-cache/pkg/cache"
	"github.com/Sternrassler/kcsp-cache/pkg/config"
	"github.com/Sternrassler/kcsp-cache/pkg/logging"
	"github.com/Sternrassler/kcsp-cache/pkg/server"
	"github.com/Sternrassler/kcsp-cache/pkg/store"
	"github.com/Sternrassler/kcsp-cache/pkg/tunnel"
)

const shutdownTimeout = 10 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Getenv, os.Stderr, nil); err != nil {
		fmt.Fprintf(os.Stderr, "kcsp-server: %v\n", err)
		os.Exit(1)
	}
}

// run serves until ctx is done. ready, when non-nil, is closed once both
// listeners accept connections.
func run(ctx context.Context, args []string, getenv func(string) string, stderr io.Writer, ready chan<- struct{}) error {
	cfg, err := config.Load("kcsp-server", args, getenv, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	logCfg := logging.Config{
		Level:  logging.LogLevel(cfg.Log.Level),
		Pretty: cfg.Log.Pretty,
		Output: stderr,
	}
	if cfg.Log.File {
		file, err := logging.NewDailyFile(cfg.LogPath, "kcsp")
		if err != nil {
			return err
		}
		defer file.Close()
		logCfg.File = file
	}
	logging.Setup(logCfg)
	logger := logging.NewLogger("server")

	st, err := openStore(ctx, cfg, logging.NewLogger("store"))
	if err != nil {
		return err
	}
	defer st.Close()

	if sw, ok := st.(store.Sweeper); ok {
		sched, err := store.NewScheduler(sw, cfg.Store.SweepInterval, logging.NewLogger("store"))
		if err != nil {
			return err
		}
		sched.Start()
		defer sched.Stop()
	}

	tracker := breaker.NewTracker(st, logging.NewLogger("breaker"))
	manager := cache.NewManager(st, tracker, cfg.CacheOptions(), logging.NewLogger("cache"))
	handler := server.NewHandler(
		cfg.ServerOptions(),
		manager,
		tunnel.New(tunnel.DefaultDialTimeout, logging.NewLogger("tunnel")),
		logger,
	)

	servers := []*http.Server{{
		Addr:              cfg.Server.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: 30 * time.Second,
	}}
	if cfg.Server.OperatorAddr != "" {
		servers = append(servers, &http.Server{
			Addr:              cfg.Server.OperatorAddr,
			Handler:           server.NewAdminHandler(tracker, logging.NewLogger("admin")),
			ReadHeaderTimeout: 10 * time.Second,
		})
	}

	return serve(ctx, servers, logger, ready)
}

// serve runs every server until ctx is done or one of them fails, then
// shuts all of them down.
func serve(ctx context.Context, servers []*http.Server, logger zerolog.Logger, ready chan<- struct{}) error {
	g, gctx := errgroup.WithContext(ctx)

	listening := make(chan struct{}, len(servers))
	for _, srv := range servers {
		srv := srv
		g.Go(func() error {
			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return err
			}
			logger.Info().Str("addr", ln.Addr().String()).Msg("Listening")
			listening <- struct{}{}
			if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("serve %s: %w", srv.Addr, err)
			}
			return nil
		})
	}

	g.Go(func() error {
		for range servers {
			select {
			case <-listening:
			case <-gctx.Done():
				return nil
			}
		}
		logger.Info().Msg("kcsp server started")
		if ready != nil {
			close(ready)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn().Err(err).Str("addr", srv.Addr).Msg("Shutdown incomplete")
			}
		}
		logger.Info().Msg("kcsp server stopped")
		return nil
	})

	return g.Wait()
}

func openStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (store.Store, error) {
	switch cfg.Store.Backend {
	case "memory":
		logger.Warn().Msg("Using in-memory store; cache is lost on restart")
		return store.NewMemory(), nil

	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Store.Redis.Addr,
			Password: cfg.Store.Redis.Password,
			DB:       cfg.Store.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("connect to redis at %s: %w", cfg.Store.Redis.Addr, err)
		}
		logger.Info().Str("addr", cfg.Store.Redis.Addr).Msg("Connected to Redis")
		return store.NewRedis(client, cfg.Store.Redis.KeyPrefix, logger), nil

	default:
		db, err := store.OpenLevelDB(cfg.CachePath, logger)
		if err != nil {
			return nil, err
		}
		logger.Info().Str("path", cfg.CachePath).Msg("Opened LevelDB store")
		return db, nil
	}
}
