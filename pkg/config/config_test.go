package config

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Sternrassler/kcsp-cache/pkg/server"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("kcsp-server", nil, envMap(nil), io.Discard)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 8099 {
		t.Errorf("Port = %d, want 8099", cfg.Server.Port)
	}
	if cfg.LogPath != filepath.Join(".", "log") || cfg.CachePath != filepath.Join(".", "cache") {
		t.Errorf("derived paths = %q, %q", cfg.LogPath, cfg.CachePath)
	}
	if cfg.Store.TTL != 30*time.Minute || cfg.Store.SweepInterval != 2*time.Hour {
		t.Errorf("store lifetimes = %s, %s", cfg.Store.TTL, cfg.Store.SweepInterval)
	}
	if cfg.Client.Retry != 100 || cfg.Client.Delay != 2*time.Second || cfg.Client.Timeout != 20*time.Second {
		t.Errorf("client = %+v", cfg.Client)
	}
	if cfg.Server.UpstreamTimeout != 180*time.Second {
		t.Errorf("UpstreamTimeout = %s", cfg.Server.UpstreamTimeout)
	}
}

func TestLoad_Precedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kcsp.yaml")
	yaml := `
base_path: /srv/kcsp
server:
  port: 9000
  token_mode: body
  upstream_hosts: [203.104.209.71]
store:
  backend: memory
  ttl: 45m
log:
  level: debug
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		args     []string
		env      map[string]string
		wantPort int
		wantBack string
		wantLog  string
	}{
		{
			name:     "file only",
			args:     []string{"-config", path},
			wantPort: 9000,
			wantBack: "memory",
			wantLog:  "/srv/kcsp/log",
		},
		{
			name:     "env over file",
			args:     []string{"-config", path},
			env:      map[string]string{EnvPort: "9100", EnvStore: "redis"},
			wantPort: 9100,
			wantBack: "redis",
			wantLog:  "/srv/kcsp/log",
		},
		{
			name:     "flags over env",
			args:     []string{"-config", path, "-p", "9200", "-store", "leveldb", "-l", "/var/log/kcsp"},
			env:      map[string]string{EnvPort: "9100", EnvStore: "redis"},
			wantPort: 9200,
			wantBack: "leveldb",
			wantLog:  "/var/log/kcsp",
		},
		{
			name:     "config path from env",
			env:      map[string]string{EnvConfig: path},
			wantPort: 9000,
			wantBack: "memory",
			wantLog:  "/srv/kcsp/log",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load("kcsp-server", tt.args, envMap(tt.env), io.Discard)
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if cfg.Server.Port != tt.wantPort {
				t.Errorf("Port = %d, want %d", cfg.Server.Port, tt.wantPort)
			}
			if cfg.Store.Backend != tt.wantBack {
				t.Errorf("Backend = %q, want %q", cfg.Store.Backend, tt.wantBack)
			}
			if cfg.LogPath != filepath.FromSlash(tt.wantLog) {
				t.Errorf("LogPath = %q, want %q", cfg.LogPath, tt.wantLog)
			}
			if cfg.Store.TTL != 45*time.Minute {
				t.Errorf("TTL = %s, want 45m from file", cfg.Store.TTL)
			}
			if cfg.Log.Level != "debug" {
				t.Errorf("Level = %q", cfg.Log.Level)
			}
			if got := cfg.ServerOptions().TokenMode; got != server.TokenModeBody {
				t.Errorf("TokenMode = %q", got)
			}
		})
	}
}

func TestLoad_PortFlagIsPort(t *testing.T) {
	cfg, err := Load("kcsp-server", []string{"-c", "/data/cache", "-p", "8100"}, envMap(nil), io.Discard)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8100 {
		t.Errorf("Port = %d, want 8100", cfg.Server.Port)
	}
	if cfg.CachePath != "/data/cache" {
		t.Errorf("CachePath = %q", cfg.CachePath)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		args []string
		env  map[string]string
		want string
	}{
		{"bad port", []string{"-p", "70000"}, nil, "Port"},
		{"bad backend", []string{"-store", "etcd"}, nil, "Backend"},
		{"bad level", nil, map[string]string{EnvLogLevel: "loud"}, "Level"},
		{"non-numeric env port", nil, map[string]string{EnvPort: "http"}, EnvPort},
		{"bad upstream", []string{"-upstream", "not a url"}, nil, "Upstream"},
		{"unknown flag", []string{"-x"}, nil, "flag provided but not defined"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load("kcsp-server", tt.args, envMap(tt.env), io.Discard)
			if err == nil {
				t.Fatal("Load() should fail")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestValidate_CrossField(t *testing.T) {
	cfg := Default()
	cfg.Store.PendingTTL = time.Minute
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "pending_ttl") {
		t.Errorf("short pending TTL: err = %v", err)
	}

	cfg = Default()
	cfg.Store.Backend = "redis"
	cfg.Store.Redis.Addr = ""
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "redis.addr") {
		t.Errorf("redis without addr: err = %v", err)
	}
}

func TestLoad_ClientUpstreamNotDefaulted(t *testing.T) {
	cfg, err := Load("kcsp-client", nil, envMap(nil), io.Discard)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Client.Upstream != "" {
		t.Errorf("Upstream = %q, want empty until configured", cfg.Client.Upstream)
	}
	if cfg.Client.MaxBody != cfg.Server.MaxRequestBody {
		t.Errorf("MaxBody = %d, want %d", cfg.Client.MaxBody, cfg.Server.MaxRequestBody)
	}
}

func TestValidate_ClientRelaysToSelf(t *testing.T) {
	tests := []struct {
		listen   string
		upstream string
		wantErr  bool
	}{
		{"127.0.0.1:8099", "http://127.0.0.1:8099", true},
		{"127.0.0.1:8099", "http://localhost:8099/", true},
		{"localhost:8099", "http://127.0.0.1:8099", true},
		{"0.0.0.0:8099", "http://127.0.0.1:8099", true},
		{":8099", "http://[::1]:8099", true},
		{"127.0.0.1:80", "http://127.0.0.1", true},
		{"127.0.0.1:8099", "http://127.0.0.1:8100", false},
		{"127.0.0.1:8099", "http://kcsp.example.org:8099", false},
		{"127.0.0.1:8099", "https://127.0.0.1", false},
	}

	for _, tt := range tests {
		t.Run(tt.listen+" "+tt.upstream, func(t *testing.T) {
			cfg := Default()
			cfg.Client.Listen = tt.listen
			cfg.Client.Upstream = tt.upstream
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !strings.Contains(err.Error(), "client.listen") {
				t.Errorf("error %q does not name client.listen", err)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("kcsp-server", []string{"-config", filepath.Join(t.TempDir(), "nope.yaml")}, envMap(nil), io.Discard)
	if err == nil {
		t.Fatal("Load() should fail for a missing file")
	}
}
