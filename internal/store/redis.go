package store

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/careline-ai/careline/internal/llm"
	"github.com/careline-ai/careline/internal/track"
)

// Key layout. Each conversation owns three keys plus an entry in the
// global index zset scored by last-update time.
const (
	convMetaPrefix  = "conv:meta:"
	convMsgsPrefix  = "conv:msgs:"
	convStatePrefix = "conv:state:"
	userConvPrefix  = "user:conv:"
	convIndexKey    = "conv:index"
)

// State hash fields.
const (
	fieldLastMessageType  = "last_message_type"
	fieldMentionedSearch  = "mentioned_provider_search"
	fieldSymptoms         = "mentioned_symptoms"
	fieldTopics           = "topics_discussed"
	fieldResults          = "search_results"
	fieldSearchCount      = "search_count"
	fieldLastSearchParams = "last_search_params"
	fieldLastSearchTime   = "last_search_time"
)

// DialConfig holds Redis connection settings.
type DialConfig struct {
	Addr     string
	Username string
	Password string
	TLS      bool
}

// Dial connects to Redis and verifies the connection with a ping.
// When TLS is enabled and the ping fails, it retries once without TLS;
// managed Redis offerings differ on whether the plain port is exposed.
func Dial(ctx context.Context, cfg DialConfig) (*redis.Client, error) {
	opts := &redis.Options{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
	}
	if cfg.TLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		if !cfg.TLS {
			return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
		}

		slog.Warn("redis TLS connection failed, retrying without TLS", "addr", cfg.Addr, "error", err)
		_ = client.Close()

		opts.TLSConfig = nil
		client = redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
		}
	}

	return client, nil
}

// RedisStore implements Store backed by Redis.
type RedisStore struct {
	client        *redis.Client
	ttl           time.Duration
	maxConvs      int64
	evictEvery    uint64
	vocab         track.Vocabulary
	lookupTool    string
	logger        *slog.Logger
	onEvict       func(n int)
	appendCounter atomic.Uint64
	derivations   sync.WaitGroup
}

// Option configures a RedisStore.
type Option func(*RedisStore)

// WithTTL sets the conversation expiry.
func WithTTL(ttl time.Duration) Option {
	return func(s *RedisStore) { s.ttl = ttl }
}

// WithMaxConversations caps the number of retained conversations.
func WithMaxConversations(n int) Option {
	return func(s *RedisStore) { s.maxConvs = int64(n) }
}

// WithEvictEvery sets how many appends pass between eviction checks.
func WithEvictEvery(n int) Option {
	return func(s *RedisStore) {
		if n > 0 {
			s.evictEvery = uint64(n)
		}
	}
}

// WithVocabulary sets the keyword lists used for state derivation.
func WithVocabulary(v track.Vocabulary) Option {
	return func(s *RedisStore) { s.vocab = v }
}

// WithLookupTool sets the tool name whose calls and results feed the
// search-result cache.
func WithLookupTool(name string) Option {
	return func(s *RedisStore) { s.lookupTool = name }
}

// WithLogger sets the store logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *RedisStore) { s.logger = l }
}

// WithEvictionHook registers a callback invoked with the number of
// conversations removed by each eviction pass.
func WithEvictionHook(fn func(n int)) Option {
	return func(s *RedisStore) { s.onEvict = fn }
}

// NewRedisStore creates a Redis-backed conversation store.
func NewRedisStore(client *redis.Client, opts ...Option) *RedisStore {
	s := &RedisStore{
		client:     client,
		ttl:        24 * time.Hour,
		maxConvs:   1000,
		evictEvery: 10,
		vocab:      track.DefaultVocabulary(),
		lookupTool: "provider_lookup",
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func metaKey(id string) string  { return convMetaPrefix + id }
func msgsKey(id string) string  { return convMsgsPrefix + id }
func stateKey(id string) string { return convStatePrefix + id }
func userKey(id string) string  { return userConvPrefix + id }

// AppendMessage appends a message to the conversation in a single
// transaction, then updates the derived state in the background and
// periodically enforces the conversation limit.
func (s *RedisStore) AppendMessage(ctx context.Context, conversationID string, msg llm.Message, userID string) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	now := time.Now()
	nowStr := now.UTC().Format(time.RFC3339Nano)

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if userID != "" {
			pipe.Set(ctx, userKey(userID), conversationID, s.ttl)
			pipe.HSetNX(ctx, metaKey(conversationID), "user_id", userID)
		}
		pipe.HSetNX(ctx, metaKey(conversationID), "created_at", nowStr)
		pipe.HSet(ctx, metaKey(conversationID), "updated_at", nowStr)
		pipe.RPush(ctx, msgsKey(conversationID), data)
		pipe.ZAdd(ctx, convIndexKey, redis.Z{Score: float64(now.UnixNano()) / 1e9, Member: conversationID})
		pipe.Expire(ctx, metaKey(conversationID), s.ttl)
		pipe.Expire(ctx, msgsKey(conversationID), s.ttl)
		pipe.Expire(ctx, stateKey(conversationID), s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}

	// Derived state is an accelerator, not a ledger. Updating it outside
	// the append transaction means a crash can lose one derivation; the
	// message log itself is never at risk.
	s.derivations.Add(1)
	go func() {
		defer s.derivations.Done()
		dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.deriveState(dctx, conversationID, msg); err != nil {
			s.logger.Warn("state derivation failed", "conversation_id", conversationID, "error", err)
		}
	}()

	if s.appendCounter.Add(1)%s.evictEvery == 0 {
		if err := s.enforceLimit(ctx); err != nil {
			s.logger.Warn("conversation eviction failed", "error", err)
		}
	}

	return nil
}

// Flush waits for in-flight state derivations to finish.
func (s *RedisStore) Flush() {
	s.derivations.Wait()
}

// Messages returns the conversation history, oldest first. Reading counts
// as activity: updated_at, the index score, and TTLs are refreshed.
func (s *RedisStore) Messages(ctx context.Context, conversationID string) ([]llm.Message, error) {
	exists, err := s.client.Exists(ctx, msgsKey(conversationID)).Result()
	if err != nil {
		return nil, fmt.Errorf("check conversation: %w", err)
	}
	if exists == 0 {
		return []llm.Message{}, nil
	}

	now := time.Now()
	var lrange *redis.StringSliceCmd
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, metaKey(conversationID), "updated_at", now.UTC().Format(time.RFC3339Nano))
		pipe.ZAdd(ctx, convIndexKey, redis.Z{Score: float64(now.UnixNano()) / 1e9, Member: conversationID})
		pipe.Expire(ctx, metaKey(conversationID), s.ttl)
		pipe.Expire(ctx, msgsKey(conversationID), s.ttl)
		pipe.Expire(ctx, stateKey(conversationID), s.ttl)
		lrange = pipe.LRange(ctx, msgsKey(conversationID), 0, -1)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}

	raw := lrange.Val()
	messages := make([]llm.Message, 0, len(raw))
	for _, item := range raw {
		var msg llm.Message
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			s.logger.Warn("skipping unreadable message", "conversation_id", conversationID, "error", err)
			continue
		}
		messages = append(messages, msg)
	}

	return messages, nil
}

// State returns the derived conversation state.
func (s *RedisStore) State(ctx context.Context, conversationID string) (*track.State, error) {
	fields, err := s.client.HGetAll(ctx, stateKey(conversationID)).Result()
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	return parseState(fields), nil
}

// Clear removes all messages and resets the derived state, preserving
// conversation metadata.
func (s *RedisStore) Clear(ctx context.Context, conversationID string) (bool, error) {
	exists, err := s.client.Exists(ctx, metaKey(conversationID), msgsKey(conversationID)).Result()
	if err != nil {
		return false, fmt.Errorf("check conversation: %w", err)
	}
	if exists == 0 {
		return false, nil
	}

	now := time.Now()
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, msgsKey(conversationID), stateKey(conversationID))
		pipe.HSet(ctx, metaKey(conversationID), "updated_at", now.UTC().Format(time.RFC3339Nano))
		pipe.ZAdd(ctx, convIndexKey, redis.Z{Score: float64(now.UnixNano()) / 1e9, Member: conversationID})
		pipe.HSet(ctx, stateKey(conversationID), defaultStateFields())
		pipe.Expire(ctx, metaKey(conversationID), s.ttl)
		pipe.Expire(ctx, stateKey(conversationID), s.ttl)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("clear conversation: %w", err)
	}

	return true, nil
}

// GetOrCreateConversationID resolves the conversation for a user, creating
// and binding a fresh one if none exists.
func (s *RedisStore) GetOrCreateConversationID(ctx context.Context, userID string) (string, error) {
	if userID == "" {
		return uuid.NewString(), nil
	}

	existing, err := s.client.Get(ctx, userKey(userID)).Result()
	if err == nil && existing != "" {
		return existing, nil
	}
	if err != nil && !errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("resolve user conversation: %w", err)
	}

	id := uuid.NewString()
	if err := s.client.Set(ctx, userKey(userID), id, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("bind user conversation: %w", err)
	}
	return id, nil
}

// BindUser points the user's conversation binding at conversationID.
// Returns false when the user was already bound to that conversation.
func (s *RedisStore) BindUser(ctx context.Context, conversationID, userID string) (bool, error) {
	current, err := s.client.Get(ctx, userKey(userID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, fmt.Errorf("read user binding: %w", err)
	}
	if current == conversationID {
		return false, nil
	}

	now := time.Now()
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, userKey(userID), conversationID, s.ttl)
		pipe.HSetNX(ctx, metaKey(conversationID), "created_at", now.UTC().Format(time.RFC3339Nano))
		pipe.HSet(ctx, metaKey(conversationID), "user_id", userID, "updated_at", now.UTC().Format(time.RFC3339Nano))
		pipe.ZAdd(ctx, convIndexKey, redis.Z{Score: float64(now.UnixNano()) / 1e9, Member: conversationID})
		pipe.Expire(ctx, metaKey(conversationID), s.ttl)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("bind user: %w", err)
	}

	return true, nil
}

// enforceLimit evicts the oldest conversations when the index exceeds the
// configured maximum. Each evicted conversation loses all three keys, its
// user binding, and its index entry in one transaction.
func (s *RedisStore) enforceLimit(ctx context.Context) error {
	count, err := s.client.ZCard(ctx, convIndexKey).Result()
	if err != nil {
		return fmt.Errorf("count conversations: %w", err)
	}
	if count <= s.maxConvs {
		return nil
	}

	oldest, err := s.client.ZRange(ctx, convIndexKey, 0, count-s.maxConvs-1).Result()
	if err != nil {
		return fmt.Errorf("list oldest conversations: %w", err)
	}
	if len(oldest) == 0 {
		return nil
	}

	// Collect user bindings before deleting the metadata that holds them.
	var userKeys []string
	for _, id := range oldest {
		uid, err := s.client.HGet(ctx, metaKey(id), "user_id").Result()
		if err == nil && uid != "" {
			userKeys = append(userKeys, userKey(uid))
		}
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(userKeys) > 0 {
			pipe.Del(ctx, userKeys...)
		}
		keys := make([]string, 0, len(oldest)*3)
		for _, id := range oldest {
			keys = append(keys, metaKey(id), msgsKey(id), stateKey(id))
		}
		pipe.Del(ctx, keys...)
		members := make([]interface{}, len(oldest))
		for i, id := range oldest {
			members[i] = id
		}
		pipe.ZRem(ctx, convIndexKey, members...)
		return nil
	})
	if err != nil {
		return fmt.Errorf("evict conversations: %w", err)
	}

	s.logger.Info("evicted oldest conversations", "count", len(oldest))
	if s.onEvict != nil {
		s.onEvict(len(oldest))
	}
	return nil
}

// deriveState loads the state hash, applies the message, and writes the
// result back.
func (s *RedisStore) deriveState(ctx context.Context, conversationID string, msg llm.Message) error {
	key := stateKey(conversationID)

	fields, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}

	st := parseState(fields)
	track.Apply(st, msg, s.vocab, s.lookupTool)

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, stateFields(st))
		pipe.Expire(ctx, key, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("store state: %w", err)
	}
	return nil
}

func defaultStateFields() map[string]string {
	return map[string]string{
		fieldMentionedSearch: "false",
		fieldSymptoms:        "[]",
		fieldTopics:          "[]",
		fieldResults:         "{}",
		fieldSearchCount:     "0",
	}
}

func stateFields(st *track.State) map[string]string {
	fields := map[string]string{
		fieldLastMessageType: st.LastMessageType,
		fieldMentionedSearch: strconv.FormatBool(st.MentionedProviderSearch),
		fieldSymptoms:        mustJSON(st.MentionedSymptoms),
		fieldTopics:          mustJSON(st.TopicsDiscussed),
		fieldResults:         mustJSON(st.ResultCache),
		fieldSearchCount:     strconv.Itoa(st.SearchCount),
	}
	if st.LastSearchParams != nil {
		fields[fieldLastSearchParams] = mustJSON(st.LastSearchParams)
	}
	if !st.LastSearchTime.IsZero() {
		fields[fieldLastSearchTime] = st.LastSearchTime.Format(time.RFC3339Nano)
	}
	return fields
}

func parseState(fields map[string]string) *track.State {
	st := track.NewState()
	if len(fields) == 0 {
		return st
	}

	st.LastMessageType = fields[fieldLastMessageType]
	st.MentionedProviderSearch = fields[fieldMentionedSearch] == "true"
	if v := fields[fieldSymptoms]; v != "" {
		_ = json.Unmarshal([]byte(v), &st.MentionedSymptoms)
	}
	if v := fields[fieldTopics]; v != "" {
		_ = json.Unmarshal([]byte(v), &st.TopicsDiscussed)
	}
	if v := fields[fieldResults]; v != "" {
		_ = json.Unmarshal([]byte(v), &st.ResultCache)
	}
	if v := fields[fieldSearchCount]; v != "" {
		st.SearchCount, _ = strconv.Atoi(v)
	}
	if v := fields[fieldLastSearchParams]; v != "" {
		_ = json.Unmarshal([]byte(v), &st.LastSearchParams)
	}
	if v := fields[fieldLastSearchTime]; v != "" {
		st.LastSearchTime, _ = time.Parse(time.RFC3339Nano, v)
	}
	return st
}

func mustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(data)
}
