package shortterm

import (
	"context"
	"errors"
	"path"
	"strings"
	"testing"
	"time"

	"github.com/nidhogg/memhub/internal/memory"
	"github.com/redis/go-redis/v9"
)

func TestOpenSucceedsWhileRedisIsDown(t *testing.T) {
	s, err := Open("redis://127.0.0.1:1/0", Options{}, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Ping(ctx); !errors.Is(err, memory.ErrUnavailable) {
		t.Errorf("Ping = %v, want ErrUnavailable", err)
	}
	if _, err := s.List(ctx, "u1"); !errors.Is(err, memory.ErrUnavailable) {
		t.Errorf("List = %v, want ErrUnavailable", err)
	}
	if _, err := Open("http://127.0.0.1:6379", Options{}, nil); err == nil {
		t.Error("expected error for non-redis URL")
	}
}

func TestEscapeGlob(t *testing.T) {
	tests := map[string]string{
		"alice":   "alice",
		"a*b":     `a\*b`,
		"what?":   `what\?`,
		"[x]":     `\[x\]`,
		`back\sl`: `back\\sl`,
	}
	for in, want := range tests {
		if got := escapeGlob(in); got != want {
			t.Errorf("escapeGlob(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestHashRoundTrip(t *testing.T) {
	rec := &memory.Record{
		ID:             "m1",
		UserID:         "u1",
		Content:        "User likes chess",
		CreatedAt:      1700000000.25,
		AccessCount:    7,
		ConversationID: "c1",
		Source:         memory.SourceInteraction,
	}
	flat := []string{}
	for k, v := range toHash(rec) {
		switch v := v.(type) {
		case string:
			flat = append(flat, k, v)
		case int:
			flat = append(flat, k, "2")
		}
	}
	got, err := fromHash(pairs(flat))
	if err != nil {
		t.Fatalf("fromHash: %v", err)
	}
	if got.ID != "m1" || got.Content != rec.Content || got.CreatedAt != rec.CreatedAt {
		t.Errorf("got %+v", got)
	}
	if got.AccessCount != 2 {
		t.Errorf("access_count = %d, want the stored counter, not the caller's", got.AccessCount)
	}
	if got.Tier != memory.TierShortTerm {
		t.Errorf("tier = %q", got.Tier)
	}
}

func TestFromHashRejectsMalformed(t *testing.T) {
	for _, h := range []map[string]string{
		{"user_id": "u1"},
		{"id": "m1", "user_id": "u1", "created_at": "yesterday"},
		{"id": "m1", "user_id": "u1", "access_count": "many"},
	} {
		if _, err := fromHash(h); err == nil {
			t.Errorf("fromHash(%v) accepted malformed record", h)
		}
	}
}

func TestOptionsDefaults(t *testing.T) {
	o := Options{}.withDefaults()
	if o.KeyPrefix != "memhub" || o.TTL.Hours() != 24 || o.HistoryLength != 50 {
		t.Errorf("defaults = %+v", o)
	}
}

func TestKeysScopedToOneUser(t *testing.T) {
	// NewClient does not dial until the first command.
	s := NewWithClient(redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"}), Options{}, nil)
	defer s.Close()

	users := []string{"alice", "alice:work", "alice*", "al", "ALICE", "a}:x"}
	for _, owner := range users {
		key := s.recordKey(owner, "m1")
		for _, reader := range users {
			matched, err := path.Match(s.recordPattern(reader), key)
			if err != nil {
				t.Fatalf("pattern for %q: %v", reader, err)
			}
			if matched != (owner == reader) {
				t.Errorf("pattern for %q matched key %q of %q: %v", reader, key, owner, matched)
			}
		}
		if strings.Count(key, ":") != 3 {
			t.Errorf("key %q leaks a separator from the user id", key)
		}
		if hk := s.historyKey(owner, "c1"); !strings.HasPrefix(hk, "memhub:history:"+userTag(owner)+":") {
			t.Errorf("history key = %q", hk)
		}
	}
}
