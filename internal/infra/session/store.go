// Package session keeps per-user conversation state for the multi-step
// wizards (registration, event creation). State is an explicit FSM value
// keyed by user id, stored in Redis with a TTL so abandoned wizards expire
// instead of lingering as global flags.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned when no session exists for a user.
var ErrNotFound = errors.New("session not found")

// Session is one user's wizard state: the current step plus fields collected
// so far.
type Session struct {
	Step string            `json:"step"`
	Data map[string]string `json:"data,omitempty"`
}

// Set stores a collected field, allocating the map lazily.
func (s *Session) Set(key, value string) {
	if s.Data == nil {
		s.Data = make(map[string]string)
	}
	s.Data[key] = value
}

// Get returns a collected field or "".
func (s *Session) Get(key string) string {
	return s.Data[key]
}

// Store persists sessions in Redis with a sliding TTL: every Put refreshes
// the expiry.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

func NewStore(client *redis.Client, ttl time.Duration) *Store {
	return &Store{client: client, ttl: ttl}
}

func key(userID int64) string {
	return fmt.Sprintf("session:%d", userID)
}

func (s *Store) Get(ctx context.Context, userID int64) (*Session, error) {
	raw, err := s.client.Get(ctx, key(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("error loading session: %w", err)
	}
	sess := &Session{}
	if err := json.Unmarshal(raw, sess); err != nil {
		return nil, fmt.Errorf("error decoding session: %w", err)
	}
	return sess, nil
}

func (s *Store) Put(ctx context.Context, userID int64, sess *Session) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("error encoding session: %w", err)
	}
	if err := s.client.Set(ctx, key(userID), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("error storing session: %w", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, userID int64) error {
	if err := s.client.Del(ctx, key(userID)).Err(); err != nil {
		return fmt.Errorf("error deleting session: %w", err)
	}
	return nil
}
