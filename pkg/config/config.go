// Package config loads process configuration from defaults, an optional
// YAML file, the environment and command-line flags, in that order of
// precedence, and validates the result.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/Sternrassler/kcsp-cache/pkg/cache"
	"github.com/Sternrassler/kcsp-cache/pkg/server"
)

// Environment variables read by Load.
const (
	EnvConfig    = "KCSP_CONFIG"
	EnvPort      = "KCSP_PORT"
	EnvRedisAddr = "KCSP_REDIS_ADDR"
	EnvStore     = "KCSP_STORE"
	EnvLogLevel  = "KCSP_LOG_LEVEL"
	EnvUpstream  = "KCSP_UPSTREAM"
)

// Config is the complete configuration of both processes.
type Config struct {
	// BasePath is the root for the derived log and cache paths.
	BasePath  string `yaml:"base_path"`
	LogPath   string `yaml:"log_path"`
	CachePath string `yaml:"cache_path"`

	Log    LogConfig    `yaml:"log"`
	Server ServerConfig `yaml:"server"`
	Store  StoreConfig  `yaml:"store"`
	Client ClientConfig `yaml:"client"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn warning error"`
	Pretty bool   `yaml:"pretty"`

	// File enables the daily log file under LogPath.
	File bool `yaml:"file"`
}

// ServerConfig holds the cache server settings.
type ServerConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port" validate:"min=1,max=65535"`
	OperatorAddr string `yaml:"operator_addr" validate:"omitempty,hostname_port"`

	APIPrefix     string   `yaml:"api_prefix" validate:"required,startswith=/"`
	UpstreamHosts []string `yaml:"upstream_hosts" validate:"required,min=1,dive,required"`
	CacheableAPIs []string `yaml:"cacheable_apis" validate:"dive,startswith=/"`
	TokenMode     string   `yaml:"token_mode" validate:"oneof=header body"`

	UpstreamTimeout time.Duration `yaml:"upstream_timeout" validate:"gt=0"`
	MaxRequestBody  int64         `yaml:"max_request_body" validate:"gt=0"`
	MaxUpstreamBody int64         `yaml:"max_upstream_body" validate:"gt=0"`
}

// Addr returns the public listen address.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// StoreConfig holds the store settings.
type StoreConfig struct {
	Backend       string        `yaml:"backend" validate:"oneof=leveldb redis memory"`
	TTL           time.Duration `yaml:"ttl" validate:"gt=0"`
	PendingTTL    time.Duration `yaml:"pending_ttl" validate:"gt=0"`
	SweepInterval time.Duration `yaml:"sweep_interval" validate:"gt=0"`
	Redis         RedisConfig   `yaml:"redis"`
}

// RedisConfig holds the Redis connection settings.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db" validate:"min=0"`
	KeyPrefix string `yaml:"key_prefix"`
}

// ClientConfig holds the local retry proxy settings.
type ClientConfig struct {
	Listen   string        `yaml:"listen" validate:"required,hostname_port"`
	// Upstream is the remote cache server. Only kcsp-client requires it.
	Upstream string        `yaml:"upstream" validate:"omitempty,url"`
	Timeout  time.Duration `yaml:"timeout" validate:"gt=0"`
	Delay    time.Duration `yaml:"delay" validate:"gte=0"`
	Retry    int           `yaml:"retry" validate:"min=1"`
	// MaxBody caps inbound request bodies.
	MaxBody int64 `yaml:"max_body" validate:"gt=0"`
}

// Default returns the default configuration.
func Default() *Config {
	srv := server.DefaultConfig()
	return &Config{
		BasePath: ".",
		Log: LogConfig{
			Level: "info",
			File:  true,
		},
		Server: ServerConfig{
			Port:            8099,
			OperatorAddr:    "127.0.0.1:9099",
			APIPrefix:       srv.APIPrefix,
			UpstreamHosts:   srv.UpstreamHosts,
			CacheableAPIs:   srv.CacheableAPIs,
			TokenMode:       string(srv.TokenMode),
			UpstreamTimeout: srv.UpstreamTimeout,
			MaxRequestBody:  srv.MaxRequestBody,
			MaxUpstreamBody: srv.MaxUpstreamBody,
		},
		Store: StoreConfig{
			Backend:       "leveldb",
			TTL:           cache.DefaultTTL,
			PendingTTL:    cache.DefaultPendingTTL,
			SweepInterval: 2 * time.Hour,
			Redis: RedisConfig{
				Addr:      "localhost:6379",
				KeyPrefix: "kcsp",
			},
		},
		Client: ClientConfig{
			Listen:  "127.0.0.1:8099",
			Timeout: 20 * time.Second,
			Delay:   2 * time.Second,
			Retry:   100,
			MaxBody: srv.MaxRequestBody,
		},
	}
}

// Load builds the configuration of program name from args. getenv is
// usually os.Getenv. Flag usage errors are written to output.
func Load(name string, args []string, getenv func(string) string, output io.Writer) (*Config, error) {
	cfg := Default()

	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(output)
	configPath := fs.String("config", getenv(EnvConfig), "path to a YAML config file")
	basePath := fs.String("b", "", "set base path")
	cachePath := fs.String("c", "", "set cache database path")
	logPath := fs.String("l", "", "set log file path")
	port := fs.Int("p", 0, "set web port")
	logLevel := fs.String("log-level", "", "log level (debug, info, warn, error)")
	backend := fs.String("store", "", "store backend (leveldb, redis, memory)")
	listen := fs.String("listen", "", "local proxy listen address")
	upstream := fs.String("upstream", "", "cache server URL for the local proxy")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if *configPath != "" {
		if err := cfg.loadFile(*configPath); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(getenv); err != nil {
		return nil, err
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "b":
			cfg.BasePath = *basePath
		case "c":
			cfg.CachePath = *cachePath
		case "l":
			cfg.LogPath = *logPath
		case "p":
			cfg.Server.Port = *port
		case "log-level":
			cfg.Log.Level = *logLevel
		case "store":
			cfg.Store.Backend = *backend
		case "listen":
			cfg.Client.Listen = *listen
		case "upstream":
			cfg.Client.Upstream = *upstream
		}
	})

	cfg.derivePaths()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv(EnvPort); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvPort, err)
		}
		c.Server.Port = p
	}
	if v := getenv(EnvRedisAddr); v != "" {
		c.Store.Redis.Addr = v
	}
	if v := getenv(EnvStore); v != "" {
		c.Store.Backend = v
	}
	if v := getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
	if v := getenv(EnvUpstream); v != "" {
		c.Client.Upstream = v
	}
	return nil
}

func (c *Config) derivePaths() {
	if c.BasePath == "" {
		c.BasePath = "."
	}
	if c.LogPath == "" {
		c.LogPath = filepath.Join(c.BasePath, "log")
	}
	if c.CachePath == "" {
		c.CachePath = filepath.Join(c.BasePath, "cache")
	}
}

// Validate checks field constraints and cross-field rules.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	if c.Store.Backend == "redis" && c.Store.Redis.Addr == "" {
		return errors.New("config validation failed: store.redis.addr is required for the redis backend")
	}
	if c.Store.PendingTTL < c.Server.UpstreamTimeout {
		return fmt.Errorf("config validation failed: store.pending_ttl (%s) must not be shorter than server.upstream_timeout (%s)",
			c.Store.PendingTTL, c.Server.UpstreamTimeout)
	}
	if c.Client.Upstream != "" && relaysToSelf(c.Client.Listen, c.Client.Upstream) {
		return fmt.Errorf("config validation failed: client.upstream %s points at client.listen %s",
			c.Client.Upstream, c.Client.Listen)
	}
	return nil
}

// relaysToSelf reports whether the local proxy listening on listen would
// use itself as its upstream.
func relaysToSelf(listen, upstream string) bool {
	lhost, lport, err := net.SplitHostPort(listen)
	if err != nil {
		return false
	}
	u, err := url.Parse(upstream)
	if err != nil {
		return false
	}
	uport := u.Port()
	if uport == "" {
		uport = "80"
		if u.Scheme == "https" {
			uport = "443"
		}
	}
	if lport != uport {
		return false
	}
	uhost := u.Hostname()
	if strings.EqualFold(lhost, uhost) {
		return true
	}
	if isLocal(uhost) {
		return isLocal(lhost) || isUnspecified(lhost)
	}
	return false
}

func isLocal(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func isUnspecified(host string) bool {
	if host == "" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsUnspecified()
}

// ServerOptions converts the server section for the request pipeline.
func (c *Config) ServerOptions() server.Config {
	return server.Config{
		APIPrefix:       c.Server.APIPrefix,
		UpstreamHosts:   c.Server.UpstreamHosts,
		CacheableAPIs:   c.Server.CacheableAPIs,
		TokenMode:       server.TokenMode(c.Server.TokenMode),
		UpstreamTimeout: c.Server.UpstreamTimeout,
		MaxRequestBody:  c.Server.MaxRequestBody,
		MaxUpstreamBody: c.Server.MaxUpstreamBody,
	}
}

// CacheOptions converts the entry lifetimes for the cache manager.
func (c *Config) CacheOptions() cache.Config {
	return cache.Config{
		TTL:        c.Store.TTL,
		PendingTTL: c.Store.PendingTTL,
	}
}
