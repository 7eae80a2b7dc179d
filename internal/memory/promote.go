package memory

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"github.com/dgraph-io/ristretto"
	"go.uber.org/zap"
)

// promote copies a short-term record into the long-term tier. The short-term
// copy is left in place and expires on its own TTL. A failed promotion is
// retried on the next read because the record stays unmarked.
func (m *Manager) promote(ctx context.Context, rec Record) {
	cp := rec
	cp.Tier = TierLongTerm
	cp.Source = SourcePromoted
	cp.Promoted = false

	added, err := m.addLong(ctx, &cp)
	if err != nil {
		m.metrics.promotion("failed")
		return
	}
	m.markPromoted(ctx, rec)
	switch {
	case !added:
		m.metrics.promotion("duplicate")
		m.logger.Debug("promotion skipped, already in long-term",
			zap.String("user", rec.UserID),
			zap.String("memory", rec.ID))
	default:
		m.metrics.promotion("promoted")
		m.logger.Info("memory promoted",
			zap.String("user", rec.UserID),
			zap.String("memory", rec.ID),
			zap.Int("access_count", rec.AccessCount))
	}
}

func (m *Manager) markPromoted(ctx context.Context, rec Record) {
	pm, ok := m.short.(PromotionMarker)
	if !ok {
		return
	}
	_, err := withTimeout(ctx, m.opts.StoreTimeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, pm.MarkPromoted(ctx, rec.UserID, rec.ID)
	})
	if err != nil {
		m.tierFailed(TierShortTerm, "mark", err)
	}
}

// promotionGuard remembers which (user, content) pairs already reached the
// long-term tier so repeated promotions and explicit remembers do not insert
// duplicates. It is a lossy cache: a miss only costs a duplicate document.
// Each user has an epoch; bumping it on delete invalidates every entry for
// that user without scanning the cache.
type promotionGuard struct {
	cache  *ristretto.Cache
	mu     sync.Mutex
	epochs map[string]uint64
}

func newPromotionGuard(maxEntries int64) (*promotionGuard, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &promotionGuard{cache: cache, epochs: make(map[string]uint64)}, nil
}

func (g *promotionGuard) key(userID, content string) string {
	g.mu.Lock()
	epoch := g.epochs[userID]
	g.mu.Unlock()
	return userID + "\x00" + strconv.FormatUint(epoch, 10) + "\x00" + strings.ToLower(strings.TrimSpace(content))
}

func (g *promotionGuard) seen(userID, content string) bool {
	if g == nil {
		return false
	}
	_, ok := g.cache.Get(g.key(userID, content))
	return ok
}

func (g *promotionGuard) mark(userID, content string) {
	if g == nil {
		return
	}
	g.cache.Set(g.key(userID, content), struct{}{}, 1)
	g.cache.Wait()
}

func (g *promotionGuard) invalidate(userID string) {
	if g == nil {
		return
	}
	g.mu.Lock()
	g.epochs[userID]++
	g.mu.Unlock()
}

func (g *promotionGuard) close() {
	g.cache.Close()
}
