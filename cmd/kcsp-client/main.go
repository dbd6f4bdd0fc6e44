// Command kcsp-client runs the local retry proxy. Point the game's HTTP
// proxy setting at it; every request is relayed to the cache server and
// retried until it answers.
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

	"github.com/Sternrassler/kcsp-cache/pkg/client"
	"github.com/Sternrassler/kcsp-cache/pkg/config"
	"github.com/Sternrassler/kcsp-cache/pkg/logging"
)

const shutdownTimeout = 5 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Getenv, os.Stderr, nil); err != nil {
		fmt.Fprintf(os.Stderr, "kcsp-client: %v\n", err)
		os.Exit(1)
	}
}

// run serves the local proxy until ctx is done. The listening address is
// sent on ready when it is non-nil.
func run(ctx context.Context, args []string, getenv func(string) string, stderr io.Writer, ready chan<- string) error {
	cfg, err := config.Load("kcsp-client", args, getenv, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	if cfg.Client.Upstream == "" {
		return fmt.Errorf("no cache server configured: set -upstream or %s", config.EnvUpstream)
	}

	logCfg := logging.Config{
		Level:  logging.LogLevel(cfg.Log.Level),
		Pretty: cfg.Log.Pretty,
		Output: stderr,
	}
	if cfg.Log.File {
		file, err := logging.NewDailyFile(cfg.LogPath, "kcsp-client")
		if err != nil {
			return err
		}
		defer file.Close()
		logCfg.File = file
	}
	logging.Setup(logCfg)
	logger := logging.NewLogger("client")

	proxy, err := client.New(client.Config{
		Upstream: cfg.Client.Upstream,
		Timeout:  cfg.Client.Timeout,
		MaxBody:  cfg.Client.MaxBody,
		Retry: client.RetryConfig{
			MaxAttempts: cfg.Client.Retry,
			Delay:       cfg.Client.Delay,
		},
	}, logger)
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", cfg.Client.Listen)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           proxy,
		ReadHeaderTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	logger.Info().
		Str("addr", ln.Addr().String()).
		Str("upstream", cfg.Client.Upstream).
		Int("retry", cfg.Client.Retry).
		Dur("delay", cfg.Client.Delay).
		Msg("kcsp client started")
	if ready != nil {
		ready <- ln.Addr().String()
	}

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("Shutdown incomplete")
	}
	logger.Info().Msg("kcsp client stopped")
	return nil
}
