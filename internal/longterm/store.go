// Package longterm implements the durable, similarity-searchable memory
// tier on top of a pluggable vector backend.
package longterm

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/nidhogg/memhub/internal/memory"
	"go.uber.org/zap"
)

// Metadata keys stored with every document.
const (
	metaUserID         = "user_id"
	metaCreatedAt      = "created_at"
	metaAccessCount    = "access_count"
	metaConversationID = "conversation_id"
	metaSource         = "source"
	metaTier           = "tier"
	metaContent        = "content"
)

// Document is what a Backend stores: text, string metadata and, on query
// results, the cosine similarity to the query.
type Document struct {
	ID         string
	Content    string
	Metadata   map[string]string
	Similarity float32
}

// Backend is a ChromaDB-like document store partitioned by user.
type Backend interface {
	Add(ctx context.Context, userID string, doc Document) error
	// Query returns up to n documents most similar to text.
	Query(ctx context.Context, userID, text string, n int) ([]Document, error)
	// All returns every document of the user.
	All(ctx context.Context, userID string) ([]Document, error)
	Delete(ctx context.Context, userID string, ids []string) error
	// DeleteAll removes every document of the user and reports how many
	// there were.
	DeleteAll(ctx context.Context, userID string) (int, error)
	Count(ctx context.Context, userID string) (int, error)
	Ping(ctx context.Context) error
	Close() error
}

// Store adapts a Backend to memory.LongTermStore.
type Store struct {
	backend Backend
	logger  *zap.Logger
}

var _ memory.LongTermStore = (*Store)(nil)

// New wraps backend.
func New(backend Backend, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{backend: backend, logger: logger}
}

// Add stores rec under a fresh id so the short-term copy keeps its own.
func (s *Store) Add(ctx context.Context, rec *memory.Record) error {
	doc := Document{
		ID:      uuid.New().String(),
		Content: rec.Content,
		Metadata: map[string]string{
			metaUserID:         rec.UserID,
			metaCreatedAt:      memory.FormatTimestamp(rec.CreatedAt),
			metaAccessCount:    strconv.Itoa(rec.AccessCount),
			metaConversationID: rec.ConversationID,
			metaSource:         rec.Source,
			metaTier:           string(memory.TierLongTerm),
		},
	}
	if err := s.backend.Add(ctx, rec.UserID, doc); err != nil {
		return unavailable("add", err)
	}
	s.logger.Debug("long-term memory stored",
		zap.String("user", rec.UserID),
		zap.String("memory", doc.ID),
		zap.String("source", rec.Source))
	return nil
}

func (s *Store) Query(ctx context.Context, userID, text string, limit int) ([]memory.Hit, error) {
	docs, err := s.backend.Query(ctx, userID, text, limit)
	if err != nil {
		return nil, unavailable("query", err)
	}
	hits := make([]memory.Hit, 0, len(docs))
	for _, d := range docs {
		// The backend filters by user; this guards against a backend that
		// shares one collection and ignores the filter.
		if d.Metadata[metaUserID] != userID {
			continue
		}
		hits = append(hits, memory.Hit{Record: toRecord(d), Distance: 1 - d.Similarity})
	}
	return hits, nil
}

func (s *Store) Count(ctx context.Context, userID string) (int, error) {
	n, err := s.backend.Count(ctx, userID)
	if err != nil {
		return 0, unavailable("count", err)
	}
	return n, nil
}

// DeleteMatching scans the user's documents rather than querying by
// similarity, so a match ranked below the query cut-off is still removed.
func (s *Store) DeleteMatching(ctx context.Context, userID, text string, exact bool) (int, error) {
	docs, err := s.backend.All(ctx, userID)
	if err != nil {
		return 0, unavailable("delete", err)
	}
	var ids []string
	for _, d := range docs {
		if memory.Matches(d.Content, text, exact) {
			ids = append(ids, d.ID)
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}
	if err := s.backend.Delete(ctx, userID, ids); err != nil {
		return 0, unavailable("delete", err)
	}
	return len(ids), nil
}

func (s *Store) Clear(ctx context.Context, userID string) (int, error) {
	n, err := s.backend.DeleteAll(ctx, userID)
	if err != nil {
		return 0, unavailable("clear", err)
	}
	return n, nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.backend.Ping(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// Close closes the backend.
func (s *Store) Close() error { return s.backend.Close() }

func toRecord(d Document) memory.Record {
	created, _ := memory.ParseTimestamp(d.Metadata[metaCreatedAt])
	count, _ := strconv.Atoi(d.Metadata[metaAccessCount])
	return memory.Record{
		ID:             d.ID,
		UserID:         d.Metadata[metaUserID],
		Content:        d.Content,
		Tier:           memory.TierLongTerm,
		CreatedAt:      created,
		AccessCount:    count,
		ConversationID: d.Metadata[metaConversationID],
		Source:         d.Metadata[metaSource],
	}
}

func unavailable(op string, err error) error {
	return fmt.Errorf("long-term %s: %w: %w", op, memory.ErrUnavailable, err)
}
