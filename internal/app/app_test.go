package app

import (
	"context"
	"errors"
	"testing"

	"github.com/nidhogg/memhub/internal/config"
	"github.com/nidhogg/memhub/internal/memory"
	"go.uber.org/zap"
)

func TestNewDegradesWithoutRedis(t *testing.T) {
	cfg, err := config.Parse([]byte(`{
		"redis": {"url": "redis://127.0.0.1:1/0", "timeout_ms": 200},
		"embedding": {"dimension": 64, "cache_entries": 100}
	}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	a, err := New(context.Background(), cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	if a.short == nil {
		t.Fatal("short-term store not wired while Redis is down")
	}
	health := a.Manager.Health(context.Background())
	if !errors.Is(health[memory.TierShortTerm], memory.ErrUnavailable) {
		t.Errorf("short-term health = %v, want ErrUnavailable", health[memory.TierShortTerm])
	}
	if health[memory.TierLongTerm] != nil {
		t.Errorf("long-term tier: %v", health[memory.TierLongTerm])
	}

	ctx := context.Background()
	res, err := a.Manager.Remember(ctx, "u1", "User likes chess", "", memory.SourceAPI)
	if err != nil {
		t.Fatalf("Remember: %v", err)
	}
	if res.StoredShortTerm || !res.StoredLongTerm {
		t.Errorf("remember = %+v", res)
	}
	got, err := a.Manager.Retrieve(ctx, memory.Query{UserID: "u1", Text: "chess"})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(got.Memories) != 1 {
		t.Errorf("memories = %+v", got.Memories)
	}
	if a.Commands == nil || a.Handler() == nil {
		t.Error("commands or handler not wired")
	}
}

func TestNewRejectsBadRedisURL(t *testing.T) {
	cfg, err := config.Parse([]byte(`{"redis": {"url": "http://127.0.0.1:6379"}}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if _, err := New(context.Background(), cfg, zap.NewNop()); err == nil {
		t.Error("expected error for non-redis URL")
	}
}

func TestNewLogger(t *testing.T) {
	l, err := NewLogger("warn")
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	if l.Core().Enabled(zap.InfoLevel) {
		t.Error("info enabled at warn level")
	}
	if _, err := NewLogger("loud"); err == nil {
		t.Error("expected error for unknown level")
	}
}
