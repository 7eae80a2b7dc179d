package longterm

import (
	"context"
	"fmt"
	"sync"

	"github.com/philippgille/chromem-go"
)

// ChromemConfig configures the embedded backend. An empty Path keeps
// everything in memory.
type ChromemConfig struct {
	Path     string `json:"path"`
	Compress bool   `json:"compress"`
}

// Chromem is an embedded Backend on chromem-go with one collection per
// user, named "memories_<user>".
type Chromem struct {
	db    *chromem.DB
	embed chromem.EmbeddingFunc
	mu    sync.Mutex // serializes collection create/delete
}

// NewChromem opens (or creates) the database.
func NewChromem(cfg ChromemConfig, embed chromem.EmbeddingFunc) (*Chromem, error) {
	if cfg.Path == "" {
		return &Chromem{db: chromem.NewDB(), embed: embed}, nil
	}
	db, err := chromem.NewPersistentDB(cfg.Path, cfg.Compress)
	if err != nil {
		return nil, fmt.Errorf("open chromem db %s: %w", cfg.Path, err)
	}
	return &Chromem{db: db, embed: embed}, nil
}

func collectionName(userID string) string { return "memories_" + userID }

func (c *Chromem) collection(userID string) (*chromem.Collection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	col, err := c.db.GetOrCreateCollection(collectionName(userID), map[string]string{metaUserID: userID}, c.embed)
	if err != nil {
		return nil, fmt.Errorf("collection for %s: %w", userID, err)
	}
	return col, nil
}

// existing returns nil when the user has no collection yet.
func (c *Chromem) existing(userID string) *chromem.Collection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.db.GetCollection(collectionName(userID), c.embed)
}

func (c *Chromem) Add(ctx context.Context, userID string, doc Document) error {
	col, err := c.collection(userID)
	if err != nil {
		return err
	}
	return col.AddDocument(ctx, chromem.Document{
		ID:       doc.ID,
		Metadata: doc.Metadata,
		Content:  doc.Content,
	})
}

func (c *Chromem) Query(ctx context.Context, userID, text string, n int) ([]Document, error) {
	col := c.existing(userID)
	if col == nil {
		return nil, nil
	}
	// chromem rejects nResults larger than the collection.
	if count := col.Count(); n > count {
		n = count
	}
	if n <= 0 {
		return nil, nil
	}
	results, err := col.Query(ctx, text, n, map[string]string{metaUserID: userID}, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem query: %w", err)
	}
	docs := make([]Document, len(results))
	for i, r := range results {
		docs[i] = Document{ID: r.ID, Content: r.Content, Metadata: r.Metadata, Similarity: r.Similarity}
	}
	return docs, nil
}

// All ranks every document against the user id, which is only a way to
// enumerate the collection; the order is irrelevant.
func (c *Chromem) All(ctx context.Context, userID string) ([]Document, error) {
	col := c.existing(userID)
	if col == nil {
		return nil, nil
	}
	return c.Query(ctx, userID, "memory "+userID, col.Count())
}

func (c *Chromem) Delete(ctx context.Context, userID string, ids []string) error {
	col := c.existing(userID)
	if col == nil || len(ids) == 0 {
		return nil
	}
	if err := col.Delete(ctx, nil, nil, ids...); err != nil {
		return fmt.Errorf("chromem delete: %w", err)
	}
	return nil
}

func (c *Chromem) DeleteAll(_ context.Context, userID string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	col := c.db.GetCollection(collectionName(userID), c.embed)
	if col == nil {
		return 0, nil
	}
	n := col.Count()
	if err := c.db.DeleteCollection(collectionName(userID)); err != nil {
		return 0, fmt.Errorf("chromem delete collection: %w", err)
	}
	return n, nil
}

func (c *Chromem) Count(_ context.Context, userID string) (int, error) {
	col := c.existing(userID)
	if col == nil {
		return 0, nil
	}
	return col.Count(), nil
}

// Ping always succeeds; the database is in-process.
func (c *Chromem) Ping(context.Context) error { return nil }

func (c *Chromem) Close() error { return nil }
