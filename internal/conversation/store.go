// Package conversation persists per-thread state in Redis with a local
// read-through cache. A thread is exclusively owned by one in-flight turn;
// the orchestration layer serializes turns per thread, so the store only
// guards its own cache.
package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/kediaman/orchestrator/internal/metrics"
	"github.com/kediaman/orchestrator/internal/models"
)

// Config bounds the store.
type Config struct {
	IdleTTL    time.Duration
	MaxThreads int
	MaxTurns   int
}

// Store manages conversation threads with a Redis backend.
type Store struct {
	client *redis.Client
	logger *zap.Logger
	cfg    Config

	mu          sync.RWMutex
	localCache  map[string]*Thread
	cacheAccess map[string]time.Time
}

// NewStore connects to Redis and verifies the connection.
func NewStore(client *redis.Client, cfg Config, logger *zap.Logger) (*Store, error) {
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 24 * time.Hour
	}
	if cfg.MaxThreads <= 0 {
		cfg.MaxThreads = 10000
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = 100
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &Store{
		client:      client,
		logger:      logger,
		cfg:         cfg,
		localCache:  make(map[string]*Thread),
		cacheAccess: make(map[string]time.Time),
	}, nil
}

// GetOrCreate returns the thread, creating it transparently when the id is
// empty or unknown. An expired thread is replaced by a fresh one under the
// same id.
func (s *Store) GetOrCreate(ctx context.Context, threadID string) (*Thread, error) {
	if threadID != "" {
		thread, err := s.Get(ctx, threadID)
		if err == nil {
			return thread, nil
		}
		if !errors.Is(err, ErrThreadNotFound) && !errors.Is(err, ErrThreadExpired) {
			return nil, err
		}
	}
	return s.create(ctx, threadID)
}

func (s *Store) create(ctx context.Context, threadID string) (*Thread, error) {
	if threadID == "" {
		threadID = uuid.New().String()
	}
	now := time.Now()
	thread := &Thread{
		ID:        threadID,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(s.cfg.IdleTTL),
		Turns:     make([]Turn, 0),
	}

	if err := s.save(ctx, thread); err != nil {
		return nil, fmt.Errorf("save thread: %w", err)
	}

	s.mu.Lock()
	s.localCache[thread.ID] = thread
	s.cacheAccess[thread.ID] = now
	s.evictIfFull()
	metrics.ThreadCacheSize.Set(float64(len(s.localCache)))
	s.mu.Unlock()

	s.logger.Info("Created conversation thread", zap.String("thread_id", thread.ID))
	metrics.ThreadsCreated.Inc()
	return thread, nil
}

// Get retrieves a thread by id, local cache first.
func (s *Store) Get(ctx context.Context, threadID string) (*Thread, error) {
	s.mu.RLock()
	cached, ok := s.localCache[threadID]
	s.mu.RUnlock()
	if ok {
		metrics.ThreadCacheHits.Inc()
		if cached.IsExpired() {
			_ = s.Delete(ctx, threadID)
			return nil, ErrThreadExpired
		}
		s.mu.Lock()
		s.cacheAccess[threadID] = time.Now()
		s.mu.Unlock()
		return cached, nil
	}
	metrics.ThreadCacheMisses.Inc()

	data, err := s.client.Get(ctx, threadKey(threadID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrThreadNotFound
	} else if err != nil {
		return nil, fmt.Errorf("get thread: %w", err)
	}

	var thread Thread
	if err := json.Unmarshal(data, &thread); err != nil {
		return nil, fmt.Errorf("unmarshal thread: %w", err)
	}
	if thread.IsExpired() {
		_ = s.Delete(ctx, threadID)
		return nil, ErrThreadExpired
	}

	s.mu.Lock()
	s.localCache[threadID] = &thread
	s.cacheAccess[threadID] = time.Now()
	s.evictIfFull()
	metrics.ThreadCacheSize.Set(float64(len(s.localCache)))
	s.mu.Unlock()

	return &thread, nil
}

// AppendExchange records one completed turn: the user message, the
// assistant's answer, and the derived projections. The update is written
// atomically; a failed write leaves the thread unchanged.
func (s *Store) AppendExchange(ctx context.Context, threadID, userText, assistantText string, intent *models.QueryIntent, focusPropertyID string) (*Thread, error) {
	thread, err := s.Get(ctx, threadID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	var snapshot *models.QueryIntent
	if intent != nil {
		intentCopy := *intent
		snapshot = &intentCopy
	}
	updated := *thread
	updated.Turns = append(append([]Turn{}, thread.Turns...),
		Turn{ID: uuid.New().String(), Role: RoleUser, Content: userText, Timestamp: now, IntentSnapshot: snapshot},
		Turn{ID: uuid.New().String(), Role: RoleAssistant, Content: assistantText, Timestamp: now},
	)
	if len(updated.Turns) > s.cfg.MaxTurns {
		updated.Turns = updated.Turns[len(updated.Turns)-s.cfg.MaxTurns:]
	}
	if intent != nil && intent.PropertyQuery {
		intentCopy := *intent
		updated.LastIntent = &intentCopy
	}
	if focusPropertyID != "" {
		updated.LastFocusPropertyID = focusPropertyID
	}
	updated.Seq++
	updated.UpdatedAt = now
	updated.ExpiresAt = now.Add(s.cfg.IdleTTL)

	if err := s.save(ctx, &updated); err != nil {
		return nil, fmt.Errorf("save thread: %w", err)
	}

	s.mu.Lock()
	s.localCache[threadID] = &updated
	s.cacheAccess[threadID] = now
	s.mu.Unlock()

	return &updated, nil
}

// Delete removes a thread from Redis and the cache.
func (s *Store) Delete(ctx context.Context, threadID string) error {
	if err := s.client.Del(ctx, threadKey(threadID)).Err(); err != nil {
		return fmt.Errorf("delete thread: %w", err)
	}
	s.mu.Lock()
	delete(s.localCache, threadID)
	delete(s.cacheAccess, threadID)
	metrics.ThreadCacheSize.Set(float64(len(s.localCache)))
	s.mu.Unlock()
	return nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

func threadKey(threadID string) string {
	return "thread:" + threadID
}

func (s *Store) save(ctx context.Context, thread *Thread) error {
	data, err := json.Marshal(thread)
	if err != nil {
		return fmt.Errorf("marshal thread: %w", err)
	}
	ttl := time.Until(thread.ExpiresAt)
	if ttl <= 0 {
		ttl = s.cfg.IdleTTL
	}
	return s.client.Set(ctx, threadKey(thread.ID), data, ttl).Err()
}

// evictIfFull drops the least recently accessed half of the cache once it
// outgrows MaxThreads. Caller holds s.mu.
func (s *Store) evictIfFull() {
	if len(s.localCache) <= s.cfg.MaxThreads {
		return
	}

	type accessEntry struct {
		id   string
		time time.Time
	}
	entries := make([]accessEntry, 0, len(s.localCache))
	for id := range s.localCache {
		entries = append(entries, accessEntry{id: id, time: s.cacheAccess[id]})
	}
	for i := 0; i < len(entries)-1; i++ {
		for j := i + 1; j < len(entries); j++ {
			if entries[j].time.Before(entries[i].time) {
				entries[i], entries[j] = entries[j], entries[i]
			}
		}
	}

	toRemove := s.cfg.MaxThreads / 2
	if toRemove == 0 {
		toRemove = 1
	}
	for i := 0; i < toRemove && i < len(entries); i++ {
		delete(s.localCache, entries[i].id)
		delete(s.cacheAccess, entries[i].id)
		metrics.ThreadCacheEvictions.Inc()
	}
}
