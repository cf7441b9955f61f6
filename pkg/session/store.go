// Package session mirrors the chat controller's session collection into a
// durable key-value store and rehydrates it at startup.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kaigo-dev/kaigo/chat"
	"github.com/kaigo-dev/kaigo/pkg/kvstore"
)

// Persisted layout: two keys. One holds the serialized session collection
// (a JSON array of sessions, timestamps in RFC 3339), the other the bare
// current-session id string.
const (
	sessionsKey  = "kaigo:sessions"
	currentIDKey = "kaigo:current-session"
)

// Store persists the session collection through a kvstore.Store.
// It implements chat.Persister.
type Store struct {
	kv      kvstore.Store
	enabled bool
}

// NewStore creates a session store over kv. When enabled is false, Persist
// is a no-op and Load returns an empty collection.
func NewStore(kv kvstore.Store, enabled bool) *Store {
	return &Store{
		kv:      kv,
		enabled: enabled,
	}
}

// Load rehydrates the full session collection and the remembered current
// session id. Absent keys mean an empty collection and no remembered id.
func (s *Store) Load(ctx context.Context) (map[string]*chat.Session, string, error) {
	sessions := make(map[string]*chat.Session)
	if !s.enabled {
		return sessions, "", nil
	}

	raw, err := s.kv.Get(ctx, sessionsKey)
	if err != nil && !errors.Is(err, kvstore.ErrKeyNotFound) {
		return nil, "", fmt.Errorf("read sessions: %w", err)
	}
	if err == nil {
		var list []*chat.Session
		if err := json.Unmarshal([]byte(raw), &list); err != nil {
			return nil, "", fmt.Errorf("parse sessions: %w", err)
		}
		for _, sess := range list {
			sessions[sess.ID] = sess
		}
	}

	currentID, err := s.kv.Get(ctx, currentIDKey)
	if err != nil {
		if errors.Is(err, kvstore.ErrKeyNotFound) {
			return sessions, "", nil
		}
		return nil, "", fmt.Errorf("read current session id: %w", err)
	}

	return sessions, currentID, nil
}

// Persist writes the whole collection and the current session id. Every
// call rewrites the full collection.
func (s *Store) Persist(ctx context.Context, sessions map[string]*chat.Session, currentID string) error {
	if !s.enabled {
		return nil
	}

	list := make([]*chat.Session, 0, len(sessions))
	for _, sess := range sessions {
		list = append(list, sess)
	}

	raw, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("marshal sessions: %w", err)
	}

	if err := s.kv.Set(ctx, sessionsKey, string(raw)); err != nil {
		return fmt.Errorf("write sessions: %w", err)
	}
	if err := s.kv.Set(ctx, currentIDKey, currentID); err != nil {
		return fmt.Errorf("write current session id: %w", err)
	}
	return nil
}

// Clear removes both persisted keys.
func (s *Store) Clear(ctx context.Context) error {
	if !s.enabled {
		return nil
	}
	if err := s.kv.Remove(ctx, sessionsKey); err != nil {
		return fmt.Errorf("remove sessions: %w", err)
	}
	if err := s.kv.Remove(ctx, currentIDKey); err != nil {
		return fmt.Errorf("remove current session id: %w", err)
	}
	return nil
}
