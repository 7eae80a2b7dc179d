package memory

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newTestManager(t *testing.T) (*Manager, *fakeShort, *fakeLong, *Metrics) {
	t.Helper()
	short, long := newFakeShort(), newFakeLong()
	metrics := NewMetrics(prometheus.NewRegistry())
	m := NewManager(short, long, DefaultOptions(), metrics, nil)
	if err := m.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(m.Stop)
	return m, short, long, metrics
}

func seedShort(t *testing.T, s *fakeShort, user string, ts float64, content string) {
	t.Helper()
	rec := &Record{ID: content, UserID: user, Content: content, CreatedAt: ts, Source: SourceInteraction}
	if err := s.Put(context.Background(), rec); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func contents(ms []ScoredMemory) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = m.Content
	}
	return out
}

func TestRetrieveSuppressesCorrectedName(t *testing.T) {
	m, short, _, _ := newTestManager(t)
	seedShort(t, short, "u1", 100, "User's name is Alice")
	seedShort(t, short, "u1", 200, "User's name is Bob")
	seedShort(t, short, "u1", 200, "CORRECTION: User's name is NOT Alice")

	res, err := m.Retrieve(context.Background(), Query{UserID: "u1", Text: "what is my name", Threshold: Threshold(0)})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	got := contents(res.Memories)
	if len(got) != 1 || got[0] != "User's name is Bob" {
		t.Fatalf("memories = %q, want only Bob", got)
	}
	if res.Sources.ShortTermCount != 1 || res.Sources.LongTermCount != 0 {
		t.Errorf("sources = %+v", res.Sources)
	}
}

func TestRetrieveSuppressionIgnoresThreshold(t *testing.T) {
	m, short, _, _ := newTestManager(t)
	seedShort(t, short, "u1", 100, "User's name is Alice and I like my name")
	seedShort(t, short, "u1", 200, "CORRECTION: User's name is NOT Alice")

	for _, th := range []float64{0, 0.1, 0.5} {
		res, err := m.Retrieve(context.Background(), Query{UserID: "u1", Text: "name", Threshold: Threshold(th)})
		if err != nil {
			t.Fatalf("Retrieve: %v", err)
		}
		for _, c := range contents(res.Memories) {
			lc := strings.ToLower(c)
			if strings.Contains(lc, "alice") && strings.Contains(lc, "name") {
				t.Errorf("threshold %v returned stale %q", th, c)
			}
		}
	}
}

func TestPromotionOnThirdRead(t *testing.T) {
	m, _, long, metrics := newTestManager(t)
	ctx := context.Background()

	res, err := m.ProcessInteraction(ctx, "u1", "c1", "I live in Paris", "Nice!")
	if err != nil {
		t.Fatalf("ProcessInteraction: %v", err)
	}
	if res.NewMemoryCount != 1 {
		t.Fatalf("new memories = %d, want 1 (%q)", res.NewMemoryCount, res.Candidates)
	}

	q := Query{UserID: "u1", Text: "where do I live", Threshold: Threshold(0)}
	for read := 1; read <= 5; read++ {
		if _, err := m.Retrieve(ctx, q); err != nil {
			t.Fatalf("read %d: %v", read, err)
		}
		want := 0
		if read >= 3 {
			want = 1
		}
		if got := long.len("u1"); got != want {
			t.Fatalf("after read %d long-term has %d records, want %d", read, got, want)
		}
	}
	if got := testutil.ToFloat64(metrics.Promotions.WithLabelValues("promoted")); got != 1 {
		t.Errorf("promoted metric = %v, want 1", got)
	}
	if long.records["u1"][0].Source != SourcePromoted {
		t.Errorf("promoted source = %q", long.records["u1"][0].Source)
	}
}

func TestPromotionRetriedAfterLongTermFailure(t *testing.T) {
	m, short, long, metrics := newTestManager(t)
	ctx := context.Background()
	seedShort(t, short, "u1", 1, "User lives in Paris")

	q := Query{UserID: "u1", Text: "where do I live", Threshold: Threshold(0)}
	for read := 1; read <= 5; read++ {
		long.down = read == 3
		if _, err := m.Retrieve(ctx, q); err != nil {
			t.Fatalf("read %d: %v", read, err)
		}
		if read == 3 && long.len("u1") != 0 {
			t.Fatalf("long-term written while down")
		}
	}
	if got := long.len("u1"); got != 1 {
		t.Errorf("long-term has %d records, want 1", got)
	}
	if long.adds != 1 {
		t.Errorf("long-term adds = %d, want 1", long.adds)
	}
	if short.marks != 1 {
		t.Errorf("short-term marks = %d, want 1", short.marks)
	}
	if got := testutil.ToFloat64(metrics.Promotions.WithLabelValues("failed")); got != 1 {
		t.Errorf("failed metric = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.Promotions.WithLabelValues("promoted")); got != 1 {
		t.Errorf("promoted metric = %v, want 1", got)
	}
}

func TestPromotionSkipsFactAlreadyRemembered(t *testing.T) {
	m, short, long, _ := newTestManager(t)
	ctx := context.Background()
	if _, err := m.Remember(ctx, "u1", "User likes chess", "", ""); err != nil {
		t.Fatalf("Remember: %v", err)
	}
	seedShort(t, short, "u1", 1, "user likes chess")
	for i := 0; i < 3; i++ {
		if _, err := m.Retrieve(ctx, Query{UserID: "u1", Text: "chess"}); err != nil {
			t.Fatal(err)
		}
	}
	if long.adds != 1 {
		t.Errorf("long-term adds = %d, want 1", long.adds)
	}
}

func TestRememberRoundTrip(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	ctx := context.Background()
	rr, err := m.Remember(ctx, "u1", "User likes chess", "", "")
	if err != nil {
		t.Fatalf("Remember: %v", err)
	}
	if !rr.StoredShortTerm || !rr.StoredLongTerm {
		t.Errorf("remember result = %+v", rr)
	}
	res, err := m.Retrieve(ctx, Query{UserID: "u1", Text: "chess", Limit: 5, Threshold: Threshold(0)})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(res.Memories) != 1 || !strings.Contains(res.Memories[0].Content, "chess") {
		t.Fatalf("memories = %q, want the chess fact once", contents(res.Memories))
	}
}

func TestThresholdMonotonic(t *testing.T) {
	m, _, long, _ := newTestManager(t)
	ctx := context.Background()
	for i, c := range []string{
		"User likes chess",
		"User plays chess on weekends",
		"User works as a teacher",
		"User lives in Oslo",
		"chess",
	} {
		rec := &Record{UserID: "u1", Content: c, CreatedAt: float64(i)}
		if err := long.Add(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}
	prev := -1
	for _, th := range []float64{0, 0.05, 0.1, 0.2, 0.35, 0.5, 0.7, 1} {
		res, err := m.Retrieve(ctx, Query{UserID: "u1", Text: "chess", Limit: 10, Threshold: Threshold(th)})
		if err != nil {
			t.Fatal(err)
		}
		n := len(res.Memories)
		if prev >= 0 && n > prev {
			t.Errorf("threshold %v returned %d, more than %d at a lower threshold", th, n, prev)
		}
		for _, sm := range res.Memories {
			if sm.RelevanceScore < th {
				t.Errorf("threshold %v returned score %v", th, sm.RelevanceScore)
			}
		}
		prev = n
	}
}

func TestRetrieveOrderingAndLimit(t *testing.T) {
	m, short, _, _ := newTestManager(t)
	seedShort(t, short, "u1", 10, "User likes chess")
	seedShort(t, short, "u1", 20, "User loves chess")
	seedShort(t, short, "u1", 5, "chess club")

	res, err := m.Retrieve(context.Background(), Query{UserID: "u1", Text: "chess club", Limit: 2, Threshold: Threshold(0)})
	if err != nil {
		t.Fatal(err)
	}
	// "chess club" scores highest; the two equal scores tie-break on recency.
	got := contents(res.Memories)
	want := []string{"chess club", "User loves chess"}
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("order = %q, want %q", got, want)
	}
}

func TestRetrieveValidation(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	for _, q := range []Query{{Text: "x"}, {UserID: "u1"}, {UserID: "u1", Text: "   "}} {
		if _, err := m.Retrieve(context.Background(), q); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("Retrieve(%+v) err = %v, want ErrInvalidInput", q, err)
		}
	}
}

func TestRetrieveDegradesPerTier(t *testing.T) {
	m, short, long, metrics := newTestManager(t)
	ctx := context.Background()
	if err := long.Add(ctx, &Record{UserID: "u1", Content: "User likes chess"}); err != nil {
		t.Fatal(err)
	}
	short.down = true

	res, err := m.Retrieve(ctx, Query{UserID: "u1", Text: "chess"})
	if err != nil {
		t.Fatalf("Retrieve with one tier down: %v", err)
	}
	if len(res.Memories) != 1 || res.Sources.LongTermCount != 1 {
		t.Errorf("result = %+v", res)
	}
	if len(res.Sources.Unavailable) != 1 || res.Sources.Unavailable[0] != TierShortTerm {
		t.Errorf("unavailable = %v", res.Sources.Unavailable)
	}
	if got := testutil.ToFloat64(metrics.TierErrors.WithLabelValues("short_term", "list")); got != 1 {
		t.Errorf("tier error metric = %v", got)
	}

	long.down = true
	res, err = m.Retrieve(ctx, Query{UserID: "u1", Text: "chess"})
	if !errors.Is(err, ErrNoTierAvailable) {
		t.Fatalf("err = %v, want ErrNoTierAvailable", err)
	}
	if len(res.Memories) != 0 {
		t.Errorf("memories = %v, want none", res.Memories)
	}
}

func TestRememberPartialFailure(t *testing.T) {
	m, short, long, _ := newTestManager(t)
	ctx := context.Background()
	long.down = true
	rr, err := m.Remember(ctx, "u1", "User likes chess", "", "")
	if err != nil {
		t.Fatalf("Remember: %v", err)
	}
	if !rr.StoredShortTerm || rr.StoredLongTerm {
		t.Errorf("result = %+v", rr)
	}
	short.down = true
	if _, err := m.Remember(ctx, "u1", "User likes go", "", ""); !errors.Is(err, ErrNoTierAvailable) {
		t.Errorf("err = %v, want ErrNoTierAvailable", err)
	}
	if _, err := m.Remember(ctx, "u1", "  ", "", ""); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("empty content err = %v", err)
	}
}

func TestForgetAndDelete(t *testing.T) {
	m, _, long, _ := newTestManager(t)
	ctx := context.Background()
	for _, c := range []string{"User likes chess", "User likes chess problems", "User lives in Oslo"} {
		if _, err := m.Remember(ctx, "u1", c, "", ""); err != nil {
			t.Fatal(err)
		}
	}

	fr, err := m.Forget(ctx, "u1", "user likes chess")
	if err != nil {
		t.Fatalf("Forget: %v", err)
	}
	if fr.RemovedCount != 2 {
		t.Errorf("forget removed %d, want 2 (one per tier)", fr.RemovedCount)
	}

	dr, err := m.Delete(ctx, "u1", "oslo", false)
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if dr.ShortTerm != 1 || dr.LongTerm != 1 || dr.Total != 2 {
		t.Errorf("delete result = %+v", dr)
	}

	// Forgotten facts can be remembered again.
	if _, err := m.Remember(ctx, "u1", "User likes chess", "", ""); err != nil {
		t.Fatal(err)
	}
	if got := long.len("u1"); got != 2 {
		t.Errorf("long-term records = %d, want 2", got)
	}
}

func TestClearAllRequiresConfirmation(t *testing.T) {
	m, short, long, _ := newTestManager(t)
	ctx := context.Background()
	for _, c := range []string{"User likes chess", "User lives in Oslo"} {
		if _, err := m.Remember(ctx, "u1", c, "", ""); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := m.Remember(ctx, "u2", "User likes tea", "", ""); err != nil {
		t.Fatal(err)
	}

	if _, err := m.ClearAll(ctx, "u1", false); !errors.Is(err, ErrConfirmationRequired) {
		t.Fatalf("err = %v, want ErrConfirmationRequired", err)
	}
	if n, _ := short.Count(ctx, "u1"); n != 2 {
		t.Errorf("unconfirmed clear removed short-term records, %d left", n)
	}

	res, err := m.ClearAll(ctx, "u1", true)
	if err != nil {
		t.Fatalf("ClearAll: %v", err)
	}
	if res.RemovedCount != 4 {
		t.Errorf("removed = %d, want 4", res.RemovedCount)
	}
	if long.len("u1") != 0 {
		t.Error("long-term not cleared")
	}
	if long.len("u2") != 1 {
		t.Error("clear leaked into another user")
	}
}

func TestProcessInteractionHistory(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	ctx := context.Background()
	res, err := m.ProcessInteraction(ctx, "u1", "c1", "How are you?", "Fine.")
	if err != nil {
		t.Fatal(err)
	}
	if res.NewMemoryCount != 0 {
		t.Errorf("new memories = %d, want 0", res.NewMemoryCount)
	}
	turns, err := m.History(ctx, "u1", "c1", 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(turns) != 2 || turns[0].Role != "user" || turns[1].Content != "Fine." {
		t.Errorf("turns = %+v", turns)
	}
}

func TestStatsAndHealth(t *testing.T) {
	m, short, _, _ := newTestManager(t)
	ctx := context.Background()
	if _, err := m.Remember(ctx, "u1", "User likes chess", "", ""); err != nil {
		t.Fatal(err)
	}
	st, err := m.Stats(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if st.ShortTerm == nil || *st.ShortTerm != 1 || st.LongTerm == nil || *st.LongTerm != 1 {
		t.Errorf("stats = %+v", st)
	}

	short.down = true
	h := m.Health(ctx)
	if !errors.Is(h[TierShortTerm], ErrUnavailable) || h[TierLongTerm] != nil {
		t.Errorf("health = %v", h)
	}
	st, err = m.Stats(ctx, "u1")
	if err != nil || st.ShortTerm != nil {
		t.Errorf("stats with short-term down = %+v, %v", st, err)
	}
}

func TestNilStores(t *testing.T) {
	m := NewManager(nil, nil, Options{}, nil, nil)
	if _, err := m.Retrieve(context.Background(), Query{UserID: "u1", Text: "chess"}); !errors.Is(err, ErrNoTierAvailable) {
		t.Errorf("err = %v", err)
	}
	if _, err := m.History(context.Background(), "u1", "c1", 5); !errors.Is(err, ErrUnavailable) {
		t.Errorf("history err = %v", err)
	}
}

func TestFormatContext(t *testing.T) {
	mems := []ScoredMemory{
		{Record: Record{Content: "User likes chess", Tier: TierShortTerm}, RelevanceScore: 0.7},
		{Record: Record{Content: strings.Repeat("long ", 200), Tier: TierLongTerm}, RelevanceScore: 0.5},
		{Record: Record{Content: "User lives in Oslo", Tier: TierLongTerm}, RelevanceScore: 0.2},
	}
	out := FormatContext(mems, ContextBudget{MaxTokens: 40})
	if !strings.HasPrefix(out, "[Memory Context]\n") {
		t.Fatalf("missing header: %q", out)
	}
	if !strings.Contains(out, "chess") || !strings.Contains(out, "Oslo") {
		t.Errorf("small memories dropped: %q", out)
	}
	if strings.Contains(out, "long long") {
		t.Errorf("oversized memory included")
	}
	if FormatContext(nil, DefaultContextBudget()) != "" {
		t.Error("empty input should render nothing")
	}
}
