package inmemory

import (
	"context"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"

	cberrors "github.com/sweetpotato0/carebridge/errors"
	"github.com/sweetpotato0/carebridge/session"
)

// InMemoryStore keeps sessions in process memory. Sessions idle for longer
// than the TTL expire; a TTL of zero keeps them for the process lifetime.
type InMemoryStore struct {
	sessions *cache.Cache
}

// NewInMemoryStore creates a store whose entries expire after ttl of inactivity.
func NewInMemoryStore(ttl time.Duration) *InMemoryStore {
	expiration, cleanup := ttl, ttl/2
	if ttl <= 0 {
		expiration, cleanup = cache.NoExpiration, 0
	}
	return &InMemoryStore{sessions: cache.New(expiration, cleanup)}
}

// Save stores a copy of s and restarts its expiry.
func (s *InMemoryStore) Save(ctx context.Context, sess *session.Session) error {
	if sess == nil || sess.Key.SessionID == "" {
		return fmt.Errorf("session cannot be nil: %w", cberrors.ErrInvalidInput)
	}
	s.sessions.Set(sess.Key.String(), sess.Clone(), cache.DefaultExpiration)
	return nil
}

// Load returns a copy of the stored session.
func (s *InMemoryStore) Load(ctx context.Context, key session.Key) (*session.Session, error) {
	v, ok := s.sessions.Get(key.String())
	if !ok {
		return nil, fmt.Errorf("session %s: %w", key, cberrors.ErrNotFound)
	}
	return v.(*session.Session).Clone(), nil
}

func (s *InMemoryStore) Delete(ctx context.Context, key session.Key) error {
	s.sessions.Delete(key.String())
	return nil
}

// Count returns the number of live sessions.
func (s *InMemoryStore) Count(ctx context.Context) (int, error) {
	return s.sessions.ItemCount(), nil
}

// Clear removes all sessions.
func (s *InMemoryStore) Clear() {
	s.sessions.Flush()
}
