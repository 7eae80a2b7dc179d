package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nidhogg/memhub/internal/scoring"
	"go.uber.org/zap"
)

// Query describes a retrieval.
type Query struct {
	UserID    string
	Text      string
	Limit     int      // <= 0 uses Options.DefaultLimit
	Threshold *float64 // nil uses Options.DefaultThreshold
}

// Threshold is a helper for building a Query with an explicit cut-off.
func Threshold(v float64) *float64 { return &v }

// Sources counts returned memories per tier of origin.
type Sources struct {
	ShortTermCount int    `json:"short_term_count"`
	LongTermCount  int    `json:"long_term_count"`
	Unavailable    []Tier `json:"unavailable,omitempty"`
}

// RetrieveResult is the outcome of Retrieve.
type RetrieveResult struct {
	Memories []ScoredMemory `json:"memories"`
	Sources  Sources        `json:"sources"`
}

type collected struct {
	records     []Record
	unavailable []Tier
}

// Retrieve runs the retrieval pipeline: collect from both tiers (promoting
// short-term records whose access count reaches the threshold), score,
// drop records below the threshold, suppress facts invalidated by
// corrections, then rank and truncate. Corrections are never returned.
func (m *Manager) Retrieve(ctx context.Context, q Query) (*RetrieveResult, error) {
	start := time.Now()
	q.Text = strings.TrimSpace(q.Text)
	if q.UserID == "" || q.Text == "" {
		return nil, fmt.Errorf("%w: user_id and query are required", ErrInvalidInput)
	}
	limit := q.Limit
	if limit <= 0 {
		limit = m.opts.DefaultLimit
	}
	threshold := m.opts.DefaultThreshold
	if q.Threshold != nil {
		threshold = *q.Threshold
	}

	col := m.collect(ctx, q.UserID, q.Text)
	res := &RetrieveResult{Memories: []ScoredMemory{}}
	res.Sources.Unavailable = col.unavailable
	if len(col.unavailable) == 2 {
		m.metrics.retrieval("unavailable")
		return res, ErrNoTierAvailable
	}

	contents := make([]string, len(col.records))
	for i, r := range col.records {
		contents[i] = r.Content
	}
	hints := scoring.HintsFrom(contents)
	incorrect := incorrectNames(col.records)

	var kept []ScoredMemory
	for _, r := range col.records {
		score := scoring.Score(r.Content, q.Text, hints)
		if score < threshold {
			continue
		}
		if scoring.IsCorrection(r.Content) || invalidated(r.Content, incorrect) {
			continue
		}
		kept = append(kept, ScoredMemory{Record: r, RelevanceScore: score})
	}

	kept = rank(kept)
	if len(kept) > limit {
		kept = kept[:limit]
	}
	for _, sm := range kept {
		switch sm.Tier {
		case TierShortTerm:
			res.Sources.ShortTermCount++
		case TierLongTerm:
			res.Sources.LongTermCount++
		}
	}
	res.Memories = append(res.Memories, kept...)

	m.metrics.retrieval("ok")
	m.logger.Debug("memories retrieved",
		zap.String("user", q.UserID),
		zap.Int("collected", len(col.records)),
		zap.Int("returned", len(res.Memories)),
		zap.Float64("threshold", threshold),
		zap.Duration("duration", time.Since(start)))
	return res, nil
}

// collect reads both tiers concurrently. A failed tier contributes nothing
// and is reported in unavailable.
func (m *Manager) collect(ctx context.Context, userID, text string) collected {
	var (
		wg          sync.WaitGroup
		shortRecs   []Record
		longRecs    []Record
		shortFailed bool
		longFailed  bool
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		if m.short == nil {
			shortFailed = true
			return
		}
		recs, err := withTimeout(ctx, m.opts.StoreTimeout, func(ctx context.Context) ([]Record, error) {
			return m.short.List(ctx, userID)
		})
		if err != nil {
			m.tierFailed(TierShortTerm, "list", err)
			shortFailed = true
			return
		}
		for i := range recs {
			recs[i].Tier = TierShortTerm
			if recs[i].AccessCount >= m.opts.PromotionThreshold && !recs[i].Promoted {
				m.promote(ctx, recs[i])
			}
		}
		shortRecs = recs
	}()
	go func() {
		defer wg.Done()
		if m.long == nil {
			longFailed = true
			return
		}
		hits, err := withTimeout(ctx, m.opts.StoreTimeout, func(ctx context.Context) ([]Hit, error) {
			return m.long.Query(ctx, userID, text, m.opts.Candidates)
		})
		if err != nil {
			m.tierFailed(TierLongTerm, "query", err)
			longFailed = true
			return
		}
		for _, h := range hits {
			r := h.Record
			r.Tier = TierLongTerm
			longRecs = append(longRecs, r)
		}
	}()
	wg.Wait()

	var out collected
	if shortFailed {
		out.unavailable = append(out.unavailable, TierShortTerm)
	}
	if longFailed {
		out.unavailable = append(out.unavailable, TierLongTerm)
	}
	out.records = append(shortRecs, longRecs...)
	return out
}

// rank sorts by relevance then recency, both descending, and keeps only the
// best-ranked copy of each distinct content (a promoted fact exists in both
// tiers until the short-term copy expires).
func rank(in []ScoredMemory) []ScoredMemory {
	sort.SliceStable(in, func(i, j int) bool {
		if in[i].RelevanceScore != in[j].RelevanceScore {
			return in[i].RelevanceScore > in[j].RelevanceScore
		}
		return in[i].CreatedAt > in[j].CreatedAt
	})
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, sm := range in {
		key := strings.ToLower(strings.TrimSpace(sm.Content))
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, sm)
	}
	return out
}
