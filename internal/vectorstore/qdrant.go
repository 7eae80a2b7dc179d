// Package vectorstore is a thin Qdrant gRPC client covering the calls the
// long-term memory tier needs: upsert, filtered search and scroll, delete
// and count.
package vectorstore

import (
	"context"
	"fmt"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// QdrantConfig holds connection settings for a Qdrant instance.
type QdrantConfig struct {
	Host       string `json:"host"`
	Port       int    `json:"port"`
	Collection string `json:"collection"`
}

// Client wraps gRPC connections to Qdrant's collections and points services.
type Client struct {
	conn        *grpc.ClientConn
	collections pb.CollectionsClient
	points      pb.PointsClient
}

// NewClient dials the Qdrant gRPC endpoint and returns a ready Client.
// The dial is lazy; use Ping to check reachability.
func NewClient(cfg QdrantConfig) (*Client, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("qdrant connect %s: %w", addr, err)
	}
	return &Client{
		conn:        conn,
		collections: pb.NewCollectionsClient(conn),
		points:      pb.NewPointsClient(conn),
	}, nil
}

// EnsureCollection creates the named collection if it does not already
// exist and adds keyword indexes for the given payload fields.
func (c *Client) EnsureCollection(ctx context.Context, name string, dimension uint64, keywordFields ...string) error {
	_, err := c.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: name})
	if err == nil {
		return nil
	}
	_, err = c.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: name,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     dimension,
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("create collection %s: %w", name, err)
	}
	for _, field := range keywordFields {
		_, err := c.points.CreateFieldIndex(ctx, &pb.CreateFieldIndexCollection{
			CollectionName: name,
			Wait:           wait(),
			FieldName:      field,
			FieldType:      pb.FieldType_FieldTypeKeyword.Enum(),
		})
		if err != nil {
			return fmt.Errorf("index %s.%s: %w", name, field, err)
		}
	}
	return nil
}

// Upsert inserts or updates a single point in the given collection and
// waits for it to become visible to searches.
func (c *Client) Upsert(ctx context.Context, collection string, id string, vector []float32, payload map[string]string) error {
	payloadMap := make(map[string]*pb.Value, len(payload))
	for k, v := range payload {
		payloadMap[k] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: v}}
	}
	_, err := c.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: collection,
		Wait:           wait(),
		Points: []*pb.PointStruct{
			{
				Id:      pointID(id),
				Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: vector}}},
				Payload: payloadMap,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("upsert %s: %w", collection, err)
	}
	return nil
}

// Search performs a nearest-neighbor search restricted to points whose
// payload matches every key/value in filter.
func (c *Client) Search(ctx context.Context, collection string, vector []float32, topK uint64, filter map[string]string) ([]*SearchResult, error) {
	resp, err := c.points.Search(ctx, &pb.SearchPoints{
		CollectionName: collection,
		Vector:         vector,
		Filter:         matchAll(filter),
		Limit:          topK,
		WithPayload:    withPayload(),
	})
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", collection, err)
	}
	results := make([]*SearchResult, 0, len(resp.Result))
	for _, r := range resp.Result {
		results = append(results, &SearchResult{
			ID:      r.Id.GetUuid(),
			Score:   r.Score,
			Payload: stringPayload(r.Payload),
		})
	}
	return results, nil
}

// Scroll returns every point matching filter, paging through the collection.
func (c *Client) Scroll(ctx context.Context, collection string, filter map[string]string) ([]*SearchResult, error) {
	var (
		out    []*SearchResult
		offset *pb.PointId
		page   = uint32(256)
	)
	for {
		resp, err := c.points.Scroll(ctx, &pb.ScrollPoints{
			CollectionName: collection,
			Filter:         matchAll(filter),
			Offset:         offset,
			Limit:          &page,
			WithPayload:    withPayload(),
		})
		if err != nil {
			return nil, fmt.Errorf("scroll %s: %w", collection, err)
		}
		for _, p := range resp.Result {
			out = append(out, &SearchResult{ID: p.Id.GetUuid(), Payload: stringPayload(p.Payload)})
		}
		if resp.NextPageOffset == nil {
			return out, nil
		}
		offset = resp.NextPageOffset
	}
}

// Delete removes points by id.
func (c *Client) Delete(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	pids := make([]*pb.PointId, len(ids))
	for i, id := range ids {
		pids[i] = pointID(id)
	}
	_, err := c.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: collection,
		Wait:           wait(),
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Points{Points: &pb.PointsIdsList{Ids: pids}},
		},
	})
	if err != nil {
		return fmt.Errorf("delete from %s: %w", collection, err)
	}
	return nil
}

// DeleteMatching removes every point whose payload matches filter.
func (c *Client) DeleteMatching(ctx context.Context, collection string, filter map[string]string) error {
	_, err := c.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: collection,
		Wait:           wait(),
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Filter{Filter: matchAll(filter)},
		},
	})
	if err != nil {
		return fmt.Errorf("delete by filter from %s: %w", collection, err)
	}
	return nil
}

// Count returns the exact number of points matching filter.
func (c *Client) Count(ctx context.Context, collection string, filter map[string]string) (int, error) {
	exact := true
	resp, err := c.points.Count(ctx, &pb.CountPoints{
		CollectionName: collection,
		Filter:         matchAll(filter),
		Exact:          &exact,
	})
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", collection, err)
	}
	return int(resp.GetResult().GetCount()), nil
}

// Ping checks that the server answers.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.collections.List(ctx, &pb.ListCollectionsRequest{}); err != nil {
		return fmt.Errorf("qdrant ping: %w", err)
	}
	return nil
}

// SearchResult holds a single vector search hit. Score is zero for
// scrolled points.
type SearchResult struct {
	ID      string
	Score   float32
	Payload map[string]string
}

// Close tears down the underlying gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func matchAll(filter map[string]string) *pb.Filter {
	if len(filter) == 0 {
		return nil
	}
	f := &pb.Filter{}
	for k, v := range filter {
		f.Must = append(f.Must, &pb.Condition{
			ConditionOneOf: &pb.Condition_Field{
				Field: &pb.FieldCondition{
					Key:   k,
					Match: &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: v}},
				},
			},
		})
	}
	return f
}

func stringPayload(p map[string]*pb.Value) map[string]string {
	out := make(map[string]string, len(p))
	for k, v := range p {
		if sv, ok := v.Kind.(*pb.Value_StringValue); ok {
			out[k] = sv.StringValue
		}
	}
	return out
}

func pointID(id string) *pb.PointId {
	return &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: id}}
}

func withPayload() *pb.WithPayloadSelector {
	return &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}}
}

func wait() *bool {
	b := true
	return &b
}
