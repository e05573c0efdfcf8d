package redisx

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"

	"github.com/xenking/conscious-checkout/internal/domain/cart"
)

var _ cart.Store = (*SessionStore)(nil)

// SessionStore persists cart sessions as JSON. Every save slides the expiry.
type SessionStore struct {
	rdb redis.Cmdable
	ttl time.Duration
}

// NewSessionStore creates a SessionStore. A zero ttl selects TTLSession.
func NewSessionStore(rdb redis.Cmdable, ttl time.Duration) *SessionStore {
	if ttl <= 0 {
		ttl = TTLSession
	}
	return &SessionStore{rdb: rdb, ttl: ttl}
}

// Load returns the session with the given id.
func (s *SessionStore) Load(ctx context.Context, id string) (*cart.Session, error) {
	data, err := s.rdb.Get(ctx, fmt.Sprintf(KeySession, id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, cart.ErrSessionNotFound
		}
		return nil, fmt.Errorf("loading session %q: %w", id, err)
	}

	var sess cart.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("decoding session %q: %w", id, err)
	}
	if sess.Items == nil {
		sess.Items = []cart.Item{}
	}
	return &sess, nil
}

// Save writes sess.
func (s *SessionStore) Save(ctx context.Context, sess *cart.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return errors.Wrap(err, "encode session")
	}
	if err := s.rdb.Set(ctx, fmt.Sprintf(KeySession, sess.ID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("saving session %q: %w", sess.ID, err)
	}
	return nil
}

// Delete removes the session.
func (s *SessionStore) Delete(ctx context.Context, id string) error {
	if err := s.rdb.Del(ctx, fmt.Sprintf(KeySession, id)).Err(); err != nil {
		return fmt.Errorf("deleting session %q: %w", id, err)
	}
	return nil
}
