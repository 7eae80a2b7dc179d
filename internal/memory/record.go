package memory

import (
	"strconv"
	"time"
)

// Tier identifies which store currently owns a record.
type Tier string

const (
	TierShortTerm Tier = "short_term"
	TierLongTerm  Tier = "long_term"
)

// Provenance tags carried in Record.Source.
const (
	SourceInteraction     = "interaction"
	SourceExplicitCommand = "explicit_command"
	SourcePromoted        = "promoted"
	SourceAPI             = "api"
)

// Record is a single remembered fact for one user.
type Record struct {
	ID             string  `json:"id"`
	UserID         string  `json:"user_id"`
	Content        string  `json:"content"`
	Tier           Tier    `json:"tier"`
	CreatedAt      float64 `json:"created_at"` // seconds since epoch
	AccessCount    int     `json:"access_count"`
	ConversationID string  `json:"conversation_id,omitempty"`
	Source         string  `json:"source,omitempty"`
	// Promoted is set on a short-term record once a long-term copy exists.
	Promoted       bool    `json:"promoted,omitempty"`
}

// Time returns CreatedAt as a time.Time.
func (r Record) Time() time.Time {
	sec := int64(r.CreatedAt)
	nsec := int64((r.CreatedAt - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}

// Timestamp converts t into the float representation used by CreatedAt.
func Timestamp(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

// FormatTimestamp renders a CreatedAt value for string-only store payloads.
func FormatTimestamp(ts float64) string {
	return strconv.FormatFloat(ts, 'f', -1, 64)
}

// ParseTimestamp is the inverse of FormatTimestamp. Empty input yields 0.
func ParseTimestamp(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}

// Hit is a long-term query result.
type Hit struct {
	Record   Record
	Distance float32 // 1 - cosine similarity
}

// ScoredMemory is a record annotated by the retrieval pipeline.
type ScoredMemory struct {
	Record
	RelevanceScore float64 `json:"relevance_score"`
}
