package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/nidhogg/memhub/internal/embedding"
	"github.com/nidhogg/memhub/internal/longterm"
	"github.com/nidhogg/memhub/internal/memory"
	"github.com/nidhogg/memhub/internal/shortterm"
	"github.com/nidhogg/memhub/internal/vectorstore"
)

// Config is the top-level configuration structure.
type Config struct {
	Server    ServerConfig     `json:"server"`
	Redis     RedisConfig      `json:"redis"`
	LongTerm  LongTermConfig   `json:"longterm"`
	Embedding embedding.Config `json:"embedding"`
	Memory    MemoryConfig     `json:"memory"`
}

type ServerConfig struct {
	Port     int    `json:"port"`
	LogLevel string `json:"log_level"`
}

type RedisConfig struct {
	URL           string `json:"url"`
	KeyPrefix     string `json:"key_prefix"`
	TTLSeconds    int    `json:"ttl_seconds"`
	HistoryLength int    `json:"history_length"`
	TimeoutMS     int    `json:"timeout_ms"`
}

type LongTermConfig struct {
	Backend    string                   `json:"backend"` // "chromem" or "qdrant"
	Candidates int                      `json:"candidates"`
	Chromem    longterm.ChromemConfig   `json:"chromem"`
	Qdrant     vectorstore.QdrantConfig `json:"qdrant"`
}

type MemoryConfig struct {
	PromotionThreshold int      `json:"promotion_threshold"`
	DefaultThreshold   *float64 `json:"default_threshold"`
	DefaultLimit       int      `json:"default_limit"`
	StoreTimeoutMS     int      `json:"store_timeout_ms"`
	DedupeEntries      int64    `json:"dedupe_entries"`
	ContextMaxTokens   int      `json:"context_max_tokens"`
}

// Defaults returns a configuration that runs without any external service
// except Redis on localhost.
func Defaults() *Config {
	threshold := 0.1
	return &Config{
		Server: ServerConfig{Port: 8080, LogLevel: "info"},
		Redis: RedisConfig{
			URL:           "redis://localhost:6379/0",
			KeyPrefix:     "memhub",
			TTLSeconds:    86400,
			HistoryLength: 50,
			TimeoutMS:     5000,
		},
		LongTerm: LongTermConfig{
			Backend:    "chromem",
			Candidates: 20,
			Qdrant:     vectorstore.QdrantConfig{Host: "localhost", Port: 6334, Collection: "memories"},
		},
		Embedding: embedding.Config{Provider: "hash", Dimension: 384},
		Memory: MemoryConfig{
			PromotionThreshold: 3,
			DefaultThreshold:   &threshold,
			DefaultLimit:       5,
			StoreTimeoutMS:     5000,
			DedupeEntries:      100000,
			ContextMaxTokens:   1000,
		},
	}
}

// ApplyDefaults fills every zero value with its default.
func (c *Config) ApplyDefaults() {
	d := Defaults()
	setInt(&c.Server.Port, d.Server.Port)
	setString(&c.Server.LogLevel, d.Server.LogLevel)

	setString(&c.Redis.URL, d.Redis.URL)
	setString(&c.Redis.KeyPrefix, d.Redis.KeyPrefix)
	setInt(&c.Redis.TTLSeconds, d.Redis.TTLSeconds)
	setInt(&c.Redis.HistoryLength, d.Redis.HistoryLength)
	setInt(&c.Redis.TimeoutMS, d.Redis.TimeoutMS)

	setString(&c.LongTerm.Backend, d.LongTerm.Backend)
	setInt(&c.LongTerm.Candidates, d.LongTerm.Candidates)
	setString(&c.LongTerm.Qdrant.Host, d.LongTerm.Qdrant.Host)
	setInt(&c.LongTerm.Qdrant.Port, d.LongTerm.Qdrant.Port)
	setString(&c.LongTerm.Qdrant.Collection, d.LongTerm.Qdrant.Collection)

	setString(&c.Embedding.Provider, d.Embedding.Provider)
	setInt(&c.Embedding.Dimension, d.Embedding.Dimension)

	setInt(&c.Memory.PromotionThreshold, d.Memory.PromotionThreshold)
	if c.Memory.DefaultThreshold == nil {
		c.Memory.DefaultThreshold = d.Memory.DefaultThreshold
	}
	setInt(&c.Memory.DefaultLimit, d.Memory.DefaultLimit)
	setInt(&c.Memory.StoreTimeoutMS, d.Memory.StoreTimeoutMS)
	if c.Memory.DedupeEntries == 0 {
		c.Memory.DedupeEntries = d.Memory.DedupeEntries
	}
	setInt(&c.Memory.ContextMaxTokens, d.Memory.ContextMaxTokens)
}

// Validate rejects settings the stores cannot honour.
func (c *Config) Validate() error {
	switch c.LongTerm.Backend {
	case "chromem", "qdrant":
	default:
		return fmt.Errorf("longterm.backend: unknown backend %q", c.LongTerm.Backend)
	}
	switch c.Embedding.Provider {
	case "hash", "api", "local":
	default:
		return fmt.Errorf("embedding.provider: unknown provider %q", c.Embedding.Provider)
	}
	if c.Embedding.Provider != "hash" && c.Embedding.Endpoint == "" {
		return fmt.Errorf("embedding.endpoint is required for provider %q", c.Embedding.Provider)
	}
	if t := c.Memory.DefaultThreshold; t != nil && (*t < 0 || *t > 1) {
		return fmt.Errorf("memory.default_threshold must be within [0, 1], got %v", *t)
	}
	if c.Memory.PromotionThreshold < 1 {
		return fmt.Errorf("memory.promotion_threshold must be positive")
	}
	switch c.Server.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("server.log_level: unknown level %q", c.Server.LogLevel)
	}
	return nil
}

// ShortTermOptions converts the redis section for the short-term store.
func (c *Config) ShortTermOptions() shortterm.Options {
	return shortterm.Options{
		KeyPrefix:     c.Redis.KeyPrefix,
		TTL:           time.Duration(c.Redis.TTLSeconds) * time.Second,
		HistoryLength: c.Redis.HistoryLength,
	}
}

// MemoryOptions converts the memory section for the manager.
func (c *Config) MemoryOptions() memory.Options {
	opts := memory.Options{
		PromotionThreshold: c.Memory.PromotionThreshold,
		DefaultThreshold:   -1,
		DefaultLimit:       c.Memory.DefaultLimit,
		Candidates:         c.LongTerm.Candidates,
		StoreTimeout:       time.Duration(c.Memory.StoreTimeoutMS) * time.Millisecond,
		DedupeEntries:      c.Memory.DedupeEntries,
	}
	if c.Memory.DefaultThreshold != nil {
		opts.DefaultThreshold = *c.Memory.DefaultThreshold
	}
	return opts
}

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a JSON config file, substitutes environment variable
// references, applies defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse is Load without the file read.
func Parse(data []byte) (*Config, error) {
	resolved := envVarRe.ReplaceAllStringFunc(string(data), func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		if v := os.Getenv(parts[1]); v != "" {
			return v
		}
		return parts[2]
	})

	var cfg Config
	if err := json.Unmarshal([]byte(resolved), &cfg); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setInt(p *int, def int) {
	if *p == 0 {
		*p = def
	}
}

func setString(p *string, def string) {
	if *p == "" {
		*p = def
	}
}
