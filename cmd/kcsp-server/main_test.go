package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/kcsp-cache/pkg/config"
	"github.com/Sternrassler/kcsp-cache/pkg/headers"
	"github.com/Sternrassler/kcsp-cache/pkg/server"
	"github.com/Sternrassler/kcsp-cache/pkg/store"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func TestOpenStore(t *testing.T) {
	tests := []struct {
		backend string
		check   func(store.Store) bool
	}{
		{"memory", func(s store.Store) bool { _, ok := s.(*store.Memory); return ok }},
		{"leveldb", func(s store.Store) bool { _, ok := s.(*store.LevelDB); return ok }},
	}

	for _, tt := range tests {
		t.Run(tt.backend, func(t *testing.T) {
			cfg := config.Default()
			cfg.Store.Backend = tt.backend
			cfg.CachePath = filepath.Join(t.TempDir(), "cache")

			st, err := openStore(context.Background(), cfg, zerolog.Nop())
			if err != nil {
				t.Fatalf("openStore() error = %v", err)
			}
			defer st.Close()
			if !tt.check(st) {
				t.Errorf("openStore() returned %T", st)
			}
		})
	}
}

func TestOpenStore_RedisUnreachable(t *testing.T) {
	cfg := config.Default()
	cfg.Store.Backend = "redis"
	cfg.Store.Redis.Addr = fmt.Sprintf("127.0.0.1:%d", freePort(t))

	if _, err := openStore(context.Background(), cfg, zerolog.Nop()); err == nil {
		t.Error("openStore() should fail when Redis is unreachable")
	}
}

func TestRun(t *testing.T) {
	base := t.TempDir()
	port := freePort(t)
	operator := fmt.Sprintf("127.0.0.1:%d", freePort(t))

	cfgPath := filepath.Join(base, "kcsp.yaml")
	yaml := fmt.Sprintf("server:\n  host: 127.0.0.1\n  operator_addr: %q\nstore:\n  backend: memory\n", operator)
	if err := os.WriteFile(cfgPath, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ready := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- run(ctx, []string{"-config", cfgPath, "-b", base, "-p", fmt.Sprint(port)}, func(string) string { return "" }, io.Discard, ready)
	}()

	select {
	case <-ready:
	case err := <-done:
		t.Fatalf("run() exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not start")
	}

	public := fmt.Sprintf("http://127.0.0.1:%d/", port)

	t.Run("health", func(t *testing.T) {
		resp, err := http.Get("http://" + operator + "/health")
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode != http.StatusOK || string(body) != "OK" {
			t.Errorf("health = %d %q", resp.StatusCode, body)
		}
	})

	t.Run("missing headers", func(t *testing.T) {
		resp, err := http.Post(public, "application/x-www-form-urlencoded", strings.NewReader("api_verno=1"))
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode != http.StatusForbidden || string(body) != server.ErrorPage(http.StatusForbidden) {
			t.Errorf("response = %d %q", resp.StatusCode, body)
		}
	})

	t.Run("lock", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodPut, "http://"+operator+"/admin/lock", nil)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()

		req, _ = http.NewRequest(http.MethodPost, public, strings.NewReader("api_verno=1"))
		req.Header.Set(headers.RequestURI, "http://203.104.209.71/kcsapi/api_port/port")
		req.Header.Set(headers.CacheToken, "12345678-run")
		resp, err = http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusServiceUnavailable {
			t.Errorf("status while locked = %d, want 503", resp.StatusCode)
		}
	})

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("run() error = %v", err)
		}
	case <-time.After(shutdownTimeout + time.Second):
		t.Fatal("server did not shut down")
	}

	entries, err := os.ReadDir(filepath.Join(base, "log"))
	if err != nil || len(entries) != 1 || !strings.HasPrefix(entries[0].Name(), "kcsp-") {
		t.Errorf("expected one daily log file, got %v (%v)", entries, err)
	}
}

func TestRun_InvalidConfig(t *testing.T) {
	err := run(context.Background(), []string{"-p", "0", "-store", "memory"}, func(string) string { return "" }, io.Discard, nil)
	if err == nil {
		t.Error("run() should reject port 0")
	}
}

func TestRun_Help(t *testing.T) {
	if err := run(context.Background(), []string{"-h"}, func(string) string { return "" }, io.Discard, nil); err != nil {
		t.Errorf("run(-h) error = %v", err)
	}
}
