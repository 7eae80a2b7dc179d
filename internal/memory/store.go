package memory

import (
	"context"
	"strings"
)

// ShortTermStore is the TTL-bounded tier.
type ShortTermStore interface {
	// Put writes rec with access_count 0 and the store's TTL.
	Put(ctx context.Context, rec *Record) error
	// List returns every live record for the user and increments each
	// record's access_count by one. Returned records carry the new count.
	List(ctx context.Context, userID string) ([]Record, error)
	Count(ctx context.Context, userID string) (int, error)
	DeleteMatching(ctx context.Context, userID, text string, exact bool) (int, error)
	Clear(ctx context.Context, userID string) (int, error)
	Ping(ctx context.Context) error
}

// LongTermStore is the durable, similarity-searchable tier.
type LongTermStore interface {
	// Add stores a copy of rec under a fresh id.
	Add(ctx context.Context, rec *Record) error
	Query(ctx context.Context, userID, text string, limit int) ([]Hit, error)
	Count(ctx context.Context, userID string) (int, error)
	DeleteMatching(ctx context.Context, userID, text string, exact bool) (int, error)
	Clear(ctx context.Context, userID string) (int, error)
	Ping(ctx context.Context) error
}

// Turn is one chat message in a conversation history.
type Turn struct {
	Role      string  `json:"role"`
	Content   string  `json:"content"`
	Timestamp float64 `json:"timestamp"`
}

// HistoryStore is implemented by short-term stores that also keep a
// bounded per-conversation chat history.
type HistoryStore interface {
	AppendHistory(ctx context.Context, userID, conversationID string, turns ...Turn) error
	History(ctx context.Context, userID, conversationID string, limit int) ([]Turn, error)
}

// PromotionMarker is implemented by short-term stores that can flag a
// record as already promoted, so retries stop once a long-term copy exists.
type PromotionMarker interface {
	MarkPromoted(ctx context.Context, userID, id string) error
}

// Matches is the content predicate shared by every DeleteMatching
// implementation: exact compares trimmed content case-insensitively,
// otherwise text must occur as a case-insensitive substring.
func Matches(content, text string, exact bool) bool {
	if exact {
		return strings.EqualFold(strings.TrimSpace(content), strings.TrimSpace(text))
	}
	return strings.Contains(strings.ToLower(content), strings.ToLower(text))
}
