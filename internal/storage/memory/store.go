// Package memory implements storage interfaces in process memory. Records
// are lost on restart.
package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sirosfoundation/go-as2/internal/storage"
)

var _ storage.Store = (*Store)(nil)

// Store implements storage.Store with maps
type Store struct {
	mu       sync.RWMutex
	messages map[string]*storage.Message
	payloads map[string]*storage.PayloadData
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		messages: make(map[string]*storage.Message),
		payloads: make(map[string]*storage.PayloadData),
	}
}

func (s *Store) Close(ctx context.Context) error { return nil }

func (s *Store) Ping(ctx context.Context) error { return nil }

func (s *Store) CreateMessage(ctx context.Context, msg *storage.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *msg
	s.messages[msg.ID] = &stored
	return nil
}

func (s *Store) GetMessage(ctx context.Context, id string) (*storage.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msg, ok := s.messages[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	found := *msg
	return &found, nil
}

func (s *Store) GetMessageByAS2ID(ctx context.Context, as2MessageID string) (*storage.Message, error) {
	messages, _ := s.ListMessages(ctx, nil)
	for _, msg := range messages {
		if msg.AS2MessageID == as2MessageID {
			return msg, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *Store) ListMessages(ctx context.Context, filter *storage.MessageFilter) ([]*storage.Message, error) {
	s.mu.RLock()
	var messages []*storage.Message
	for _, msg := range s.messages {
		if matches(msg, filter) {
			found := *msg
			messages = append(messages, &found)
		}
	}
	s.mu.RUnlock()

	sort.Slice(messages, func(i, j int) bool {
		return messages[i].ReceivedAt.After(messages[j].ReceivedAt)
	})

	if filter != nil {
		if filter.Offset > 0 {
			if filter.Offset >= len(messages) {
				return nil, nil
			}
			messages = messages[filter.Offset:]
		}
		if filter.Limit > 0 && len(messages) > filter.Limit {
			messages = messages[:filter.Limit]
		}
	}
	return messages, nil
}

func (s *Store) CountMessages(ctx context.Context, filter *storage.MessageFilter) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, msg := range s.messages {
		if matches(msg, filter) {
			n++
		}
	}
	return n, nil
}

func matches(msg *storage.Message, filter *storage.MessageFilter) bool {
	if filter == nil {
		return true
	}
	switch {
	case filter.Direction != "" && msg.Direction != filter.Direction:
		return false
	case filter.Status != "" && msg.Status != filter.Status:
		return false
	case filter.From != "" && msg.From != filter.From:
		return false
	case filter.Since != nil && msg.ReceivedAt.Before(*filter.Since):
		return false
	}
	return true
}

func (s *Store) StorePayload(ctx context.Context, payload *storage.PayloadData) (string, error) {
	if payload.Checksum == "" {
		hash := sha256.Sum256(payload.Data)
		payload.Checksum = hex.EncodeToString(hash[:])
	}
	payload.ID = uuid.NewString()

	stored := *payload
	stored.Data = append([]byte(nil), payload.Data...)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.payloads[payload.ID] = &stored
	return payload.ID, nil
}

func (s *Store) GetPayload(ctx context.Context, id string) (*storage.PayloadData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	payload, ok := s.payloads[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	found := *payload
	return &found, nil
}

func (s *Store) DeletePayload(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.payloads[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.payloads, id)
	return nil
}
