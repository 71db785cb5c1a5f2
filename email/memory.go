package email

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// MemoryStore is an in-process Store for local runs and tests. IDs look like
// the ones MongoDB hands out so the two stores are interchangeable.
type MemoryStore struct {
	mu     sync.RWMutex
	emails map[string]Email
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{emails: make(map[string]Email)}
}

// InsertOrReplace implements Store
func (s *MemoryStore) InsertOrReplace(_ context.Context, e *Email) error {
	if e.ID == "" {
		e.ID = primitive.NewObjectID().Hex()
	}
	stored := *e
	stored.Time = stored.Time.UTC()
	if e.SentimentScore != nil {
		stored.SentimentScore = ptr(*e.SentimentScore)
	}

	s.mu.Lock()
	s.emails[e.ID] = stored
	s.mu.Unlock()
	return nil
}

// FindByID implements Store
func (s *MemoryStore) FindByID(_ context.Context, id string) (Email, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.emails[id]
	if !ok {
		return Email{}, fmt.Errorf("email %q: %w", id, ErrNotFound)
	}
	return e, nil
}

// FindByIDs implements Store
func (s *MemoryStore) FindByIDs(_ context.Context, ids []string) ([]Email, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool, len(ids))
	var out []Email
	for _, id := range ids {
		if e, ok := s.emails[id]; ok && !seen[id] {
			seen[id] = true
			out = append(out, e)
		}
	}
	sortNewestFirst(out)
	return out, nil
}

// List implements Store
func (s *MemoryStore) List(_ context.Context, f Filter) ([]Email, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Email, 0, len(s.emails))
	for _, e := range s.emails {
		if f.Matches(e) {
			out = append(out, e)
		}
	}
	sortNewestFirst(out)
	return out, nil
}

// BulkUpdate implements Store
func (s *MemoryStore) BulkUpdate(_ context.Context, updates []Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range updates {
		e, ok := s.emails[u.ID]
		if !ok {
			continue
		}
		u.Apply(&e)
		s.emails[u.ID] = e
	}
	return nil
}

// Delete implements Store
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.emails[id]; !ok {
		return fmt.Errorf("email %q: %w", id, ErrNotFound)
	}
	delete(s.emails, id)
	return nil
}

// Ping always succeeds
func (s *MemoryStore) Ping(context.Context) error { return nil }

// Len returns the number of stored emails
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.emails)
}

func sortNewestFirst(emails []Email) {
	slices.SortStableFunc(emails, func(a, b Email) int {
		return b.Time.Compare(a.Time)
	})
}
