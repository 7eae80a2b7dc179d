// Package shortterm implements the TTL-bounded memory tier on Redis.
//
// Each record is a hash at {prefix}:short:{tag}:{id} carrying the record
// fields and an access_count. Chat history lives in a capped list at
// {prefix}:history:{tag}:{conversation}. The tag is the user id in
// base64url wrapped in braces, so no user's key pattern can match another
// user's keys and a user's keys share one cluster slot.
package shortterm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nidhogg/memhub/internal/memory"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Options configures the Redis store.
type Options struct {
	KeyPrefix     string        // default "memhub"
	TTL           time.Duration // record lifetime, default 24h
	HistoryLength int           // turns kept per conversation, default 50
}

func (o Options) withDefaults() Options {
	if o.KeyPrefix == "" {
		o.KeyPrefix = "memhub"
	}
	if o.TTL <= 0 {
		o.TTL = 24 * time.Hour
	}
	if o.HistoryLength <= 0 {
		o.HistoryLength = 50
	}
	return o
}

// Store is a memory.ShortTermStore and memory.HistoryStore backed by Redis.
type Store struct {
	rdb    *redis.Client
	opts   Options
	logger *zap.Logger
}

var (
	_ memory.ShortTermStore  = (*Store)(nil)
	_ memory.HistoryStore    = (*Store)(nil)
	_ memory.PromotionMarker = (*Store)(nil)
)

// Open builds a store for redisURL without contacting the server. The
// client reconnects on demand, so a server that is down now only fails
// individual calls with memory.ErrUnavailable.
func Open(redisURL string, opts Options, logger *zap.Logger) (*Store, error) {
	ropts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewWithClient(redis.NewClient(ropts), opts, logger), nil
}

// New is Open followed by a ping.
func New(ctx context.Context, redisURL string, opts Options, logger *zap.Logger) (*Store, error) {
	s, err := Open(redisURL, opts, logger)
	if err != nil {
		return nil, err
	}
	if err := s.Ping(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// NewWithClient wraps an existing client.
func NewWithClient(rdb *redis.Client, opts Options, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{rdb: rdb, opts: opts.withDefaults(), logger: logger}
}

// Close closes the underlying client.
func (s *Store) Close() error { return s.rdb.Close() }

// touchScript bumps access_count and returns the whole hash in one round
// trip. A key that expired after SCAN saw it yields nil.
var touchScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return false
end
redis.call('HINCRBY', KEYS[1], 'access_count', 1)
return redis.call('HGETALL', KEYS[1])
`)

// markScript flags a live record as promoted without recreating an expired one.
var markScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
redis.call('HSET', KEYS[1], 'promoted', '1')
return 1
`)

func (s *Store) Put(ctx context.Context, rec *memory.Record) error {
	key := s.recordKey(rec.UserID, rec.ID)
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, toHash(rec))
		pipe.Expire(ctx, key, s.opts.TTL)
		return nil
	})
	if err != nil {
		return unavailable("put", err)
	}
	s.logger.Debug("short-term memory stored",
		zap.String("user", rec.UserID),
		zap.String("memory", rec.ID))
	return nil
}

func (s *Store) List(ctx context.Context, userID string) ([]memory.Record, error) {
	keys, err := s.keys(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]memory.Record, 0, len(keys))
	for _, key := range keys {
		fields, err := touchScript.Run(ctx, s.rdb, []string{key}).StringSlice()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, unavailable("list", err)
		}
		rec, err := fromHash(pairs(fields))
		if err != nil {
			s.logger.Warn("skipping malformed short-term record", zap.String("key", key), zap.Error(err))
			continue
		}
		if rec.UserID != userID {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// MarkPromoted records that a long-term copy of the record exists. A record
// that already expired is left alone.
func (s *Store) MarkPromoted(ctx context.Context, userID, id string) error {
	if err := markScript.Run(ctx, s.rdb, []string{s.recordKey(userID, id)}).Err(); err != nil {
		return unavailable("mark", err)
	}
	return nil
}

func (s *Store) Count(ctx context.Context, userID string) (int, error) {
	keys, err := s.keys(ctx, userID)
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

func (s *Store) DeleteMatching(ctx context.Context, userID, text string, exact bool) (int, error) {
	keys, err := s.keys(ctx, userID)
	if err != nil {
		return 0, err
	}
	var doomed []string
	for _, key := range keys {
		content, err := s.rdb.HGet(ctx, key, "content").Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return 0, unavailable("delete", err)
		}
		if memory.Matches(content, text, exact) {
			doomed = append(doomed, key)
		}
	}
	return s.del(ctx, "delete", doomed)
}

func (s *Store) Clear(ctx context.Context, userID string) (int, error) {
	keys, err := s.keys(ctx, userID)
	if err != nil {
		return 0, err
	}
	n, err := s.del(ctx, "clear", keys)
	if err != nil {
		return n, err
	}
	hkeys, err := s.scan(ctx, s.opts.KeyPrefix+":history:"+escapeGlob(userTag(userID))+":*")
	if err != nil {
		return n, err
	}
	if _, err := s.del(ctx, "clear", hkeys); err != nil {
		return n, err
	}
	return n, nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// AppendHistory pushes turns onto the conversation list, trims it to
// HistoryLength and refreshes its TTL.
func (s *Store) AppendHistory(ctx context.Context, userID, conversationID string, turns ...memory.Turn) error {
	if len(turns) == 0 {
		return nil
	}
	vals := make([]interface{}, 0, len(turns))
	for _, t := range turns {
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("encode turn: %w", err)
		}
		vals = append(vals, string(b))
	}
	key := s.historyKey(userID, conversationID)
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, vals...)
		pipe.LTrim(ctx, key, int64(-s.opts.HistoryLength), -1)
		pipe.Expire(ctx, key, s.opts.TTL)
		return nil
	})
	if err != nil {
		return unavailable("history", err)
	}
	return nil
}

// History returns up to limit most recent turns, oldest first. A limit of
// zero or less returns everything kept.
func (s *Store) History(ctx context.Context, userID, conversationID string, limit int) ([]memory.Turn, error) {
	start := int64(0)
	if limit > 0 {
		start = int64(-limit)
	}
	raw, err := s.rdb.LRange(ctx, s.historyKey(userID, conversationID), start, -1).Result()
	if err != nil {
		return nil, unavailable("history", err)
	}
	turns := make([]memory.Turn, 0, len(raw))
	for _, r := range raw {
		var t memory.Turn
		if err := json.Unmarshal([]byte(r), &t); err != nil {
			s.logger.Warn("skipping malformed history entry", zap.Error(err))
			continue
		}
		turns = append(turns, t)
	}
	return turns, nil
}

func (s *Store) recordKey(userID, id string) string {
	return s.opts.KeyPrefix + ":short:" + userTag(userID) + ":" + id
}

func (s *Store) historyKey(userID, conversationID string) string {
	return s.opts.KeyPrefix + ":history:" + userTag(userID) + ":" + conversationID
}

// userTag encodes a user id for use inside keys. base64url has no ':' and
// no glob metacharacters.
func userTag(userID string) string {
	return "{" + base64.RawURLEncoding.EncodeToString([]byte(userID)) + "}"
}

func (s *Store) recordPattern(userID string) string {
	return s.opts.KeyPrefix + ":short:" + escapeGlob(userTag(userID)) + ":*"
}

// keys returns the user's record keys. Keys whose stored user_id differs
// from userID are dropped and logged.
func (s *Store) keys(ctx context.Context, userID string) ([]string, error) {
	keys, err := s.scan(ctx, s.recordPattern(userID))
	if err != nil || len(keys) == 0 {
		return keys, err
	}
	cmds := make([]*redis.StringCmd, len(keys))
	_, err = s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, key := range keys {
			cmds[i] = pipe.HGet(ctx, key, "user_id")
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, unavailable("scan", err)
	}
	owned := keys[:0]
	for i, key := range keys {
		owner, err := cmds[i].Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, unavailable("scan", err)
		}
		if owner != userID {
			s.logger.Warn("skipping short-term record of another user", zap.String("key", key))
			continue
		}
		owned = append(owned, key)
	}
	return owned, nil
}

func (s *Store) scan(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := s.rdb.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, unavailable("scan", err)
	}
	return keys, nil
}

func (s *Store) del(ctx context.Context, op string, keys []string) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	n, err := s.rdb.Del(ctx, keys...).Result()
	if err != nil {
		return 0, unavailable(op, err)
	}
	return int(n), nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("redis %s: %w: %w", op, memory.ErrUnavailable, err)
}

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

// escapeGlob quotes SCAN MATCH metacharacters so a user id is matched
// literally.
func escapeGlob(s string) string { return globEscaper.Replace(s) }

func toHash(rec *memory.Record) map[string]interface{} {
	return map[string]interface{}{
		"id":              rec.ID,
		"user_id":         rec.UserID,
		"content":         rec.Content,
		"created_at":      memory.FormatTimestamp(rec.CreatedAt),
		"access_count":    0,
		"conversation_id": rec.ConversationID,
		"source":          rec.Source,
	}
}

func pairs(flat []string) map[string]string {
	m := make(map[string]string, len(flat)/2)
	for i := 0; i+1 < len(flat); i += 2 {
		m[flat[i]] = flat[i+1]
	}
	return m
}

func fromHash(h map[string]string) (memory.Record, error) {
	if h["id"] == "" || h["user_id"] == "" {
		return memory.Record{}, errors.New("missing id or user_id")
	}
	created, err := memory.ParseTimestamp(h["created_at"])
	if err != nil {
		return memory.Record{}, fmt.Errorf("created_at: %w", err)
	}
	count := 0
	if v := h["access_count"]; v != "" {
		if count, err = strconv.Atoi(v); err != nil {
			return memory.Record{}, fmt.Errorf("access_count: %w", err)
		}
	}
	return memory.Record{
		ID:             h["id"],
		UserID:         h["user_id"],
		Content:        h["content"],
		Tier:           memory.TierShortTerm,
		CreatedAt:      created,
		AccessCount:    count,
		ConversationID: h["conversation_id"],
		Source:         h["source"],
		Promoted:       h["promoted"] == "1",
	}, nil
}
