package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

type fakeShort struct {
	mu      sync.Mutex
	records map[string][]*Record
	history map[string][]Turn
	marks   int
	down    bool
}

func newFakeShort() *fakeShort {
	return &fakeShort{records: map[string][]*Record{}, history: map[string][]Turn{}}
}

func (f *fakeShort) err(op string) error {
	if f.down {
		return fmt.Errorf("fake short %s: %w", op, ErrUnavailable)
	}
	return nil
}

func (f *fakeShort) Put(_ context.Context, rec *Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.err("put"); err != nil {
		return err
	}
	cp := *rec
	cp.AccessCount = 0
	cp.Tier = TierShortTerm
	f.records[rec.UserID] = append(f.records[rec.UserID], &cp)
	return nil
}

func (f *fakeShort) List(_ context.Context, userID string) ([]Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.err("list"); err != nil {
		return nil, err
	}
	var out []Record
	for _, r := range f.records[userID] {
		r.AccessCount++
		out = append(out, *r)
	}
	return out, nil
}

func (f *fakeShort) Count(_ context.Context, userID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.err("count"); err != nil {
		return 0, err
	}
	return len(f.records[userID]), nil
}

func (f *fakeShort) DeleteMatching(_ context.Context, userID, text string, exact bool) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.err("delete"); err != nil {
		return 0, err
	}
	var keep []*Record
	n := 0
	for _, r := range f.records[userID] {
		if Matches(r.Content, text, exact) {
			n++
			continue
		}
		keep = append(keep, r)
	}
	f.records[userID] = keep
	return n, nil
}

func (f *fakeShort) Clear(_ context.Context, userID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.err("clear"); err != nil {
		return 0, err
	}
	n := len(f.records[userID])
	delete(f.records, userID)
	return n, nil
}

func (f *fakeShort) Ping(context.Context) error { return f.err("ping") }

func (f *fakeShort) MarkPromoted(_ context.Context, userID, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.err("mark"); err != nil {
		return err
	}
	for _, r := range f.records[userID] {
		if r.ID == id {
			r.Promoted = true
			f.marks++
		}
	}
	return nil
}

func (f *fakeShort) AppendHistory(_ context.Context, userID, conversationID string, turns ...Turn) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.err("history"); err != nil {
		return err
	}
	key := userID + "/" + conversationID
	f.history[key] = append(f.history[key], turns...)
	return nil
}

func (f *fakeShort) History(_ context.Context, userID, conversationID string, limit int) ([]Turn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h := f.history[userID+"/"+conversationID]
	if limit > 0 && len(h) > limit {
		h = h[len(h)-limit:]
	}
	return append([]Turn(nil), h...), nil
}

type fakeLong struct {
	mu      sync.Mutex
	records map[string][]Record
	adds    int
	down    bool
}

func newFakeLong() *fakeLong {
	return &fakeLong{records: map[string][]Record{}}
}

func (f *fakeLong) err(op string) error {
	if f.down {
		return fmt.Errorf("fake long %s: %w", op, ErrUnavailable)
	}
	return nil
}

func (f *fakeLong) Add(_ context.Context, rec *Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.err("add"); err != nil {
		return err
	}
	cp := *rec
	cp.ID = uuid.New().String()
	cp.Tier = TierLongTerm
	f.records[rec.UserID] = append(f.records[rec.UserID], cp)
	f.adds++
	return nil
}

func (f *fakeLong) Query(_ context.Context, userID, _ string, limit int) ([]Hit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.err("query"); err != nil {
		return nil, err
	}
	var out []Hit
	for _, r := range f.records[userID] {
		if len(out) == limit {
			break
		}
		out = append(out, Hit{Record: r, Distance: 0.5})
	}
	return out, nil
}

func (f *fakeLong) Count(_ context.Context, userID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.err("count"); err != nil {
		return 0, err
	}
	return len(f.records[userID]), nil
}

func (f *fakeLong) DeleteMatching(_ context.Context, userID, text string, exact bool) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.err("delete"); err != nil {
		return 0, err
	}
	var keep []Record
	n := 0
	for _, r := range f.records[userID] {
		if Matches(r.Content, text, exact) {
			n++
			continue
		}
		keep = append(keep, r)
	}
	f.records[userID] = keep
	return n, nil
}

func (f *fakeLong) Clear(_ context.Context, userID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.err("clear"); err != nil {
		return 0, err
	}
	n := len(f.records[userID])
	delete(f.records, userID)
	return n, nil
}

func (f *fakeLong) Ping(context.Context) error { return f.err("ping") }

func (f *fakeLong) len(userID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records[userID])
}
