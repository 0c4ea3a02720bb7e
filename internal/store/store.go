// Package store is the conversation read path: an LRU over server
// fetches with an optional sqlite mirror as the offline fallback.
package store

import (
	"context"
	"errors"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/recallhq/recall/internal/api"
	recallErrors "github.com/recallhq/recall/internal/errors"
	"github.com/recallhq/recall/internal/storage"
)

const defaultCacheSize = 64

// Fetcher is the server side of the store.
type Fetcher interface {
	Conversation(ctx context.Context, id int) (*api.Conversation, error)
	ListConversations(ctx context.Context, page, pageSize int) ([]api.Conversation, error)
	DeleteConversation(ctx context.Context, id int) error
}

// Store caches fetched conversations and mirrors them to disk. The
// server copy always wins; the mirror only answers when the server is
// unreachable.
type Store struct {
	fetcher Fetcher
	cache   *lru.Cache[int, *api.Conversation]
	mirror  *storage.Mirror
}

// New creates a store. mirror may be nil to disable the on-disk
// fallback; capacity at or below zero uses a default.
func New(fetcher Fetcher, mirror *storage.Mirror, capacity int) (*Store, error) {
	if capacity <= 0 {
		capacity = defaultCacheSize
	}
	cache, err := lru.New[int, *api.Conversation](capacity)
	if err != nil {
		return nil, err
	}
	return &Store{fetcher: fetcher, cache: cache, mirror: mirror}, nil
}

// RequestRefresh drops the cached copy so the next read refetches the
// durable conversation.
func (s *Store) RequestRefresh(conversationID int) {
	if conversationID > 0 {
		s.cache.Remove(conversationID)
	}
}

// Conversation returns a conversation with its transcript, preferring
// cache, then server, then the local mirror when the server is down.
func (s *Store) Conversation(ctx context.Context, id int) (*api.Conversation, error) {
	if conv, ok := s.cache.Get(id); ok {
		return conv, nil
	}

	conv, err := s.fetcher.Conversation(ctx, id)
	if err != nil {
		if fallback, ok := s.fromMirror(ctx, id, err); ok {
			return fallback, nil
		}
		return nil, err
	}

	s.cache.Add(id, conv)
	if s.mirror != nil {
		// Mirror failures never break the read path.
		_ = s.mirror.SaveConversation(ctx, conv)
	}
	return conv, nil
}

// List returns conversation summaries from the server, falling back to
// the mirror when unreachable.
func (s *Store) List(ctx context.Context, page, pageSize int) ([]api.Conversation, error) {
	convs, err := s.fetcher.ListConversations(ctx, page, pageSize)
	if err != nil {
		if s.mirror != nil && isTransport(err) {
			if mirrored, merr := s.mirror.ListConversations(ctx, pageSize); merr == nil {
				return mirrored, nil
			}
		}
		return nil, err
	}
	return convs, nil
}

// Delete removes a conversation everywhere: server, cache, mirror.
func (s *Store) Delete(ctx context.Context, id int) error {
	if err := s.fetcher.DeleteConversation(ctx, id); err != nil {
		return err
	}
	s.cache.Remove(id)
	if s.mirror != nil {
		_ = s.mirror.DeleteConversation(ctx, id)
	}
	return nil
}

// Close releases the mirror, if any.
func (s *Store) Close() error {
	if s.mirror != nil {
		return s.mirror.Close()
	}
	return nil
}

func (s *Store) fromMirror(ctx context.Context, id int, fetchErr error) (*api.Conversation, bool) {
	if s.mirror == nil || !isTransport(fetchErr) {
		return nil, false
	}
	conv, err := s.mirror.LoadConversation(ctx, id)
	if err != nil {
		return nil, false
	}
	return conv, true
}

// isTransport reports whether the server never answered, as opposed to
// answering with an error. Only the former justifies serving stale
// mirrored data.
func isTransport(err error) bool {
	var te *recallErrors.TransportError
	return errors.As(err, &te)
}
