package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/furever-cart/internal/pricing"
)

// State is the persisted form of a cart. The coupon is not stored.
type State struct {
	Items     []pricing.LineItem `json:"items"`
	UpdatedAt time.Time          `json:"updatedAt"`
}

// Store persists cart state by id. Saves are last-write-wins.
type Store interface {
	Load(ctx context.Context, id string) (State, error)
	Save(ctx context.Context, id string, st State) error
	Delete(ctx context.Context, id string) error
	Ping(ctx context.Context) error
}

// RedisStore keeps each cart as a JSON document with a sliding TTL.
type RedisStore struct {
	R      *redis.Client
	TTL    time.Duration
	Prefix string
}

func (s RedisStore) key(id string) string {
	prefix := s.Prefix
	if prefix == "" {
		prefix = "cart:"
	}
	return prefix + id
}

// Load returns the stored state or ErrNotFound.
func (s RedisStore) Load(ctx context.Context, id string) (State, error) {
	if s.R == nil {
		return State{}, errors.New("cart store: redis client not configured")
	}
	data, err := s.R.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return State{}, ErrNotFound
		}
		return State{}, fmt.Errorf("load cart %s: %w", id, err)
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return State{}, fmt.Errorf("decode cart %s: %w", id, err)
	}
	return st, nil
}

// Save writes st and refreshes the TTL.
func (s RedisStore) Save(ctx context.Context, id string, st State) error {
	if s.R == nil {
		return errors.New("cart store: redis client not configured")
	}
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode cart %s: %w", id, err)
	}
	return s.R.Set(ctx, s.key(id), data, s.TTL).Err()
}

// Delete removes the cart.
func (s RedisStore) Delete(ctx context.Context, id string) error {
	if s.R == nil {
		return errors.New("cart store: redis client not configured")
	}
	return s.R.Del(ctx, s.key(id)).Err()
}

// Ping checks connectivity.
func (s RedisStore) Ping(ctx context.Context) error {
	if s.R == nil {
		return errors.New("cart store: redis client not configured")
	}
	return s.R.Ping(ctx).Err()
}

// MemoryStore is an in-process Store used when Redis is not configured.
type MemoryStore struct {
	TTL time.Duration
	Now func() time.Time

	mu    sync.Mutex
	carts map[string]memoryEntry
}

type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

func (s *MemoryStore) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Load returns the stored state or ErrNotFound.
func (s *MemoryStore) Load(_ context.Context, id string) (State, error) {
	s.mu.Lock()
	entry, ok := s.carts[id]
	if ok && !entry.expiresAt.IsZero() && !s.now().Before(entry.expiresAt) {
		delete(s.carts, id)
		ok = false
	}
	s.mu.Unlock()
	if !ok {
		return State{}, ErrNotFound
	}
	var st State
	if err := json.Unmarshal(entry.data, &st); err != nil {
		return State{}, fmt.Errorf("decode cart %s: %w", id, err)
	}
	return st, nil
}

// Save stores a copy of st.
func (s *MemoryStore) Save(_ context.Context, id string, st State) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode cart %s: %w", id, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.carts == nil {
		s.carts = make(map[string]memoryEntry)
	}
	entry := memoryEntry{data: data}
	if s.TTL > 0 {
		entry.expiresAt = s.now().Add(s.TTL)
	}
	s.carts[id] = entry
	return nil
}

// Delete removes the cart.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.carts, id)
	return nil
}

// Ping always succeeds.
func (s *MemoryStore) Ping(context.Context) error { return nil }
