package longterm

import (
	"context"
	"fmt"

	"github.com/nidhogg/memhub/internal/embedding"
	"github.com/nidhogg/memhub/internal/vectorstore"
)

// Qdrant is a Backend over a single shared Qdrant collection. Users are
// separated by a keyword-indexed user_id payload filter.
type Qdrant struct {
	client     *vectorstore.Client
	embedder   embedding.Provider
	collection string
}

// NewQdrant connects and makes sure the collection exists.
func NewQdrant(ctx context.Context, cfg vectorstore.QdrantConfig, embedder embedding.Provider) (*Qdrant, error) {
	if cfg.Collection == "" {
		cfg.Collection = "memories"
	}
	client, err := vectorstore.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	dim := uint64(embedder.Dimension())
	if dim == 0 {
		dim = 384
	}
	if err := client.EnsureCollection(ctx, cfg.Collection, dim, metaUserID); err != nil {
		client.Close()
		return nil, err
	}
	return &Qdrant{client: client, embedder: embedder, collection: cfg.Collection}, nil
}

func (q *Qdrant) embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := q.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("embed: empty result")
	}
	return vecs[0], nil
}

func (q *Qdrant) Add(ctx context.Context, userID string, doc Document) error {
	vec, err := q.embed(ctx, doc.Content)
	if err != nil {
		return err
	}
	payload := make(map[string]string, len(doc.Metadata)+1)
	for k, v := range doc.Metadata {
		payload[k] = v
	}
	payload[metaUserID] = userID
	payload[metaContent] = doc.Content
	return q.client.Upsert(ctx, q.collection, doc.ID, vec, payload)
}

func (q *Qdrant) Query(ctx context.Context, userID, text string, n int) ([]Document, error) {
	if n <= 0 {
		return nil, nil
	}
	vec, err := q.embed(ctx, text)
	if err != nil {
		return nil, err
	}
	hits, err := q.client.Search(ctx, q.collection, vec, uint64(n), userFilter(userID))
	if err != nil {
		return nil, err
	}
	return toDocuments(hits), nil
}

func (q *Qdrant) All(ctx context.Context, userID string) ([]Document, error) {
	points, err := q.client.Scroll(ctx, q.collection, userFilter(userID))
	if err != nil {
		return nil, err
	}
	return toDocuments(points), nil
}

func (q *Qdrant) Delete(ctx context.Context, _ string, ids []string) error {
	return q.client.Delete(ctx, q.collection, ids)
}

func (q *Qdrant) DeleteAll(ctx context.Context, userID string) (int, error) {
	n, err := q.client.Count(ctx, q.collection, userFilter(userID))
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}
	if err := q.client.DeleteMatching(ctx, q.collection, userFilter(userID)); err != nil {
		return 0, err
	}
	return n, nil
}

func (q *Qdrant) Count(ctx context.Context, userID string) (int, error) {
	return q.client.Count(ctx, q.collection, userFilter(userID))
}

func (q *Qdrant) Ping(ctx context.Context) error { return q.client.Ping(ctx) }

func (q *Qdrant) Close() error { return q.client.Close() }

func userFilter(userID string) map[string]string {
	return map[string]string{metaUserID: userID}
}

func toDocuments(results []*vectorstore.SearchResult) []Document {
	docs := make([]Document, 0, len(results))
	for _, r := range results {
		content := r.Payload[metaContent]
		meta := make(map[string]string, len(r.Payload))
		for k, v := range r.Payload {
			if k != metaContent {
				meta[k] = v
			}
		}
		docs = append(docs, Document{ID: r.ID, Content: content, Metadata: meta, Similarity: r.Score})
	}
	return docs
}
