package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nidhogg/memhub/internal/extract"
	"go.uber.org/zap"
)

// Options controls the tiered manager.
type Options struct {
	PromotionThreshold int           // short-term reads before promotion, default 3
	DefaultThreshold   float64       // relevance cut-off when a caller passes none, default 0.1
	DefaultLimit       int           // records returned when a caller passes none, default 5
	Candidates         int           // long-term candidates per query, default 20
	StoreTimeout       time.Duration // per adapter call, default 5s
	DedupeEntries      int64         // promotion guard capacity, default 100000
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		PromotionThreshold: 3,
		DefaultThreshold:   0.1,
		DefaultLimit:       5,
		Candidates:         20,
		StoreTimeout:       5 * time.Second,
		DedupeEntries:      100000,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.PromotionThreshold <= 0 {
		o.PromotionThreshold = d.PromotionThreshold
	}
	if o.DefaultThreshold < 0 {
		o.DefaultThreshold = d.DefaultThreshold
	}
	if o.DefaultLimit <= 0 {
		o.DefaultLimit = d.DefaultLimit
	}
	if o.Candidates <= 0 {
		o.Candidates = d.Candidates
	}
	if o.StoreTimeout <= 0 {
		o.StoreTimeout = d.StoreTimeout
	}
	if o.DedupeEntries <= 0 {
		o.DedupeEntries = d.DedupeEntries
	}
	return o
}

// Manager orchestrates extraction, storage, promotion and retrieval across
// the short-term and long-term tiers. Either store may be nil, in which case
// that tier is treated as permanently unavailable.
type Manager struct {
	short     ShortTermStore
	long      LongTermStore
	extractor *extract.Extractor
	guard     *promotionGuard
	metrics   *Metrics
	opts      Options
	logger    *zap.Logger
	now       func() time.Time
}

// NewManager creates a Manager. Call Start before use and Stop when done.
func NewManager(short ShortTermStore, long LongTermStore, opts Options, metrics *Metrics, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		short:     short,
		long:      long,
		extractor: extract.New(),
		metrics:   metrics,
		opts:      opts.withDefaults(),
		logger:    logger,
		now:       time.Now,
	}
}

// Start allocates the promotion guard.
func (m *Manager) Start() error {
	if m.guard != nil {
		return nil
	}
	g, err := newPromotionGuard(m.opts.DedupeEntries)
	if err != nil {
		return fmt.Errorf("start memory manager: %w", err)
	}
	m.guard = g
	return nil
}

// Stop releases the promotion guard.
func (m *Manager) Stop() {
	if m.guard != nil {
		m.guard.close()
		m.guard = nil
	}
}

// Options returns the effective options.
func (m *Manager) Options() Options { return m.opts }

// RememberResult reports which tiers accepted an explicit memory.
type RememberResult struct {
	StoredShortTerm bool `json:"stored_short_term"`
	StoredLongTerm  bool `json:"stored_long_term"`
}

// Remember writes content straight to both tiers, bypassing the
// short-term-first rule. It fails only when neither tier accepted it.
func (m *Manager) Remember(ctx context.Context, userID, content, conversationID, source string) (*RememberResult, error) {
	content = strings.TrimSpace(content)
	if userID == "" || content == "" {
		return nil, fmt.Errorf("%w: user_id and content are required", ErrInvalidInput)
	}
	if source == "" {
		source = SourceExplicitCommand
	}
	rec := m.newRecord(userID, content, conversationID, source)

	res := &RememberResult{}
	if err := m.putShort(ctx, rec); err == nil {
		res.StoredShortTerm = true
	}
	longCopy := *rec
	longCopy.Tier = TierLongTerm
	if _, err := m.addLong(ctx, &longCopy); err == nil {
		res.StoredLongTerm = true
	}
	if !res.StoredShortTerm && !res.StoredLongTerm {
		return res, ErrNoTierAvailable
	}
	m.logger.Info("memory remembered",
		zap.String("user", userID),
		zap.Bool("short_term", res.StoredShortTerm),
		zap.Bool("long_term", res.StoredLongTerm))
	return res, nil
}

// ForgetResult reports how many records were removed.
type ForgetResult struct {
	RemovedCount int `json:"removed_count"`
}

// Forget removes records whose content equals content in both tiers.
func (m *Manager) Forget(ctx context.Context, userID, content string) (*ForgetResult, error) {
	res, err := m.Delete(ctx, userID, content, true)
	if err != nil {
		return nil, err
	}
	return &ForgetResult{RemovedCount: res.Total}, nil
}

// DeleteResult reports removals per tier.
type DeleteResult struct {
	ShortTerm   int    `json:"short_term"`
	LongTerm    int    `json:"long_term"`
	Total       int    `json:"total"`
	Unavailable []Tier `json:"unavailable,omitempty"`
}

// Delete removes matching records from both tiers. With exact false the
// query is matched as a case-insensitive substring.
func (m *Manager) Delete(ctx context.Context, userID, query string, exact bool) (*DeleteResult, error) {
	query = strings.TrimSpace(query)
	if userID == "" || query == "" {
		return nil, fmt.Errorf("%w: user_id and query are required", ErrInvalidInput)
	}
	res := &DeleteResult{}
	if n, err := m.deleteShort(ctx, userID, query, exact); err != nil {
		res.Unavailable = append(res.Unavailable, TierShortTerm)
	} else {
		res.ShortTerm = n
	}
	if n, err := m.deleteLong(ctx, userID, query, exact); err != nil {
		res.Unavailable = append(res.Unavailable, TierLongTerm)
	} else {
		res.LongTerm = n
	}
	if len(res.Unavailable) == 2 {
		return res, ErrNoTierAvailable
	}
	res.Total = res.ShortTerm + res.LongTerm
	m.guard.invalidate(userID)
	m.logger.Info("memories deleted",
		zap.String("user", userID),
		zap.Bool("exact", exact),
		zap.Int("short_term", res.ShortTerm),
		zap.Int("long_term", res.LongTerm))
	return res, nil
}

// ClearResult reports how many records ClearAll removed.
type ClearResult struct {
	RemovedCount int    `json:"removed_count"`
	ShortTerm    int    `json:"short_term"`
	LongTerm     int    `json:"long_term"`
	Unavailable  []Tier `json:"unavailable,omitempty"`
}

// ClearAll deletes every record for the user in both tiers. It refuses to
// do anything unless confirm is true.
func (m *Manager) ClearAll(ctx context.Context, userID string, confirm bool) (*ClearResult, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	if !confirm {
		return nil, ErrConfirmationRequired
	}
	res := &ClearResult{}
	if m.short == nil {
		res.Unavailable = append(res.Unavailable, TierShortTerm)
	} else if n, err := withTimeout(ctx, m.opts.StoreTimeout, func(ctx context.Context) (int, error) {
		return m.short.Clear(ctx, userID)
	}); err != nil {
		m.tierFailed(TierShortTerm, "clear", err)
		res.Unavailable = append(res.Unavailable, TierShortTerm)
	} else {
		res.ShortTerm = n
	}
	if m.long == nil {
		res.Unavailable = append(res.Unavailable, TierLongTerm)
	} else if n, err := withTimeout(ctx, m.opts.StoreTimeout, func(ctx context.Context) (int, error) {
		return m.long.Clear(ctx, userID)
	}); err != nil {
		m.tierFailed(TierLongTerm, "clear", err)
		res.Unavailable = append(res.Unavailable, TierLongTerm)
	} else {
		res.LongTerm = n
	}
	if len(res.Unavailable) == 2 {
		return res, ErrNoTierAvailable
	}
	res.RemovedCount = res.ShortTerm + res.LongTerm
	m.guard.invalidate(userID)
	m.logger.Warn("all memories cleared",
		zap.String("user", userID),
		zap.Int("removed", res.RemovedCount))
	return res, nil
}

// InteractionResult reports what ProcessInteraction stored.
type InteractionResult struct {
	NewMemoryCount int      `json:"new_memory_count"`
	Failed         int      `json:"failed,omitempty"`
	Candidates     []string `json:"candidates,omitempty"`
}

// ProcessInteraction extracts candidate facts from userMessage and writes
// each to the short-term tier. When the short-term store keeps chat history
// the exchange is appended to it as well. Failed writes are counted, never
// rolled back.
func (m *Manager) ProcessInteraction(ctx context.Context, userID, conversationID, userMessage, assistantResponse string) (*InteractionResult, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	res := &InteractionResult{Candidates: m.extractor.Extract(userMessage)}
	m.metrics.extracted(len(res.Candidates))

	for _, c := range res.Candidates {
		if err := m.putShort(ctx, m.newRecord(userID, c, conversationID, SourceInteraction)); err != nil {
			res.Failed++
			continue
		}
		res.NewMemoryCount++
	}
	m.appendHistory(ctx, userID, conversationID, userMessage, assistantResponse)

	if res.Failed > 0 && res.NewMemoryCount == 0 {
		return res, ErrNoTierAvailable
	}
	m.logger.Debug("interaction processed",
		zap.String("user", userID),
		zap.String("conversation", conversationID),
		zap.Int("candidates", len(res.Candidates)),
		zap.Int("stored", res.NewMemoryCount))
	return res, nil
}

// Extract exposes the fact extractor.
func (m *Manager) Extract(text string) []string {
	return m.extractor.Extract(text)
}

// History returns the most recent turns of a conversation, oldest first.
func (m *Manager) History(ctx context.Context, userID, conversationID string, limit int) ([]Turn, error) {
	if userID == "" || conversationID == "" {
		return nil, fmt.Errorf("%w: user_id and conversation_id are required", ErrInvalidInput)
	}
	hs, ok := m.short.(HistoryStore)
	if !ok {
		return nil, fmt.Errorf("chat history: %w", ErrUnavailable)
	}
	return withTimeout(ctx, m.opts.StoreTimeout, func(ctx context.Context) ([]Turn, error) {
		return hs.History(ctx, userID, conversationID, limit)
	})
}

// Stats holds per-tier record counts. A nil count means the tier failed.
type Stats struct {
	ShortTerm *int `json:"short_term"`
	LongTerm  *int `json:"long_term"`
}

// Stats counts the user's records in each tier.
func (m *Manager) Stats(ctx context.Context, userID string) (*Stats, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	st := &Stats{}
	if m.short != nil {
		if n, err := withTimeout(ctx, m.opts.StoreTimeout, func(ctx context.Context) (int, error) {
			return m.short.Count(ctx, userID)
		}); err == nil {
			st.ShortTerm = &n
		} else {
			m.tierFailed(TierShortTerm, "count", err)
		}
	}
	if m.long != nil {
		if n, err := withTimeout(ctx, m.opts.StoreTimeout, func(ctx context.Context) (int, error) {
			return m.long.Count(ctx, userID)
		}); err == nil {
			st.LongTerm = &n
		} else {
			m.tierFailed(TierLongTerm, "count", err)
		}
	}
	if st.ShortTerm == nil && st.LongTerm == nil {
		return st, ErrNoTierAvailable
	}
	return st, nil
}

// Health pings both tiers. A nil entry means healthy.
func (m *Manager) Health(ctx context.Context) map[Tier]error {
	out := map[Tier]error{}
	if m.short == nil {
		out[TierShortTerm] = ErrUnavailable
	} else {
		_, out[TierShortTerm] = withTimeout(ctx, m.opts.StoreTimeout, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, m.short.Ping(ctx)
		})
	}
	if m.long == nil {
		out[TierLongTerm] = ErrUnavailable
	} else {
		_, out[TierLongTerm] = withTimeout(ctx, m.opts.StoreTimeout, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, m.long.Ping(ctx)
		})
	}
	return out
}

func (m *Manager) newRecord(userID, content, conversationID, source string) *Record {
	return &Record{
		ID:             uuid.New().String(),
		UserID:         userID,
		Content:        content,
		Tier:           TierShortTerm,
		CreatedAt:      Timestamp(m.now()),
		ConversationID: conversationID,
		Source:         source,
	}
}

func (m *Manager) putShort(ctx context.Context, rec *Record) error {
	if m.short == nil {
		return ErrUnavailable
	}
	_, err := withTimeout(ctx, m.opts.StoreTimeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, m.short.Put(ctx, rec)
	})
	if err != nil {
		m.tierFailed(TierShortTerm, "put", err)
	}
	return err
}

// addLong inserts rec unless the guard says an identical fact is already
// there. It reports whether a new document was written.
func (m *Manager) addLong(ctx context.Context, rec *Record) (bool, error) {
	if m.long == nil {
		return false, ErrUnavailable
	}
	if m.guard.seen(rec.UserID, rec.Content) {
		return false, nil
	}
	_, err := withTimeout(ctx, m.opts.StoreTimeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, m.long.Add(ctx, rec)
	})
	if err != nil {
		m.tierFailed(TierLongTerm, "add", err)
		return false, err
	}
	m.guard.mark(rec.UserID, rec.Content)
	return true, nil
}

func (m *Manager) deleteShort(ctx context.Context, userID, query string, exact bool) (int, error) {
	if m.short == nil {
		return 0, ErrUnavailable
	}
	n, err := withTimeout(ctx, m.opts.StoreTimeout, func(ctx context.Context) (int, error) {
		return m.short.DeleteMatching(ctx, userID, query, exact)
	})
	if err != nil {
		m.tierFailed(TierShortTerm, "delete", err)
	}
	return n, err
}

func (m *Manager) deleteLong(ctx context.Context, userID, query string, exact bool) (int, error) {
	if m.long == nil {
		return 0, ErrUnavailable
	}
	n, err := withTimeout(ctx, m.opts.StoreTimeout, func(ctx context.Context) (int, error) {
		return m.long.DeleteMatching(ctx, userID, query, exact)
	})
	if err != nil {
		m.tierFailed(TierLongTerm, "delete", err)
	}
	return n, err
}

func (m *Manager) appendHistory(ctx context.Context, userID, conversationID, userMessage, assistantResponse string) {
	hs, ok := m.short.(HistoryStore)
	if !ok || conversationID == "" {
		return
	}
	ts := Timestamp(m.now())
	var turns []Turn
	if userMessage != "" {
		turns = append(turns, Turn{Role: "user", Content: userMessage, Timestamp: ts})
	}
	if assistantResponse != "" {
		turns = append(turns, Turn{Role: "assistant", Content: assistantResponse, Timestamp: ts})
	}
	if len(turns) == 0 {
		return
	}
	_, err := withTimeout(ctx, m.opts.StoreTimeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, hs.AppendHistory(ctx, userID, conversationID, turns...)
	})
	if err != nil {
		m.tierFailed(TierShortTerm, "history", err)
	}
}

func (m *Manager) tierFailed(tier Tier, op string, err error) {
	m.metrics.tierError(tier, op)
	level := m.logger.Warn
	if !errors.Is(err, ErrUnavailable) && !errors.Is(err, context.DeadlineExceeded) {
		level = m.logger.Error
	}
	level("memory tier failed",
		zap.String("tier", string(tier)),
		zap.String("op", op),
		zap.Error(err))
}

// withTimeout runs fn under a child context bounded by d.
func withTimeout[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	return fn(ctx)
}
