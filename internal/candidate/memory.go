package candidate

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-process Store. It is used for dry runs and tests.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*Record
	byChat  map[string]string
	now     func() time.Time
}

func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		records: make(map[string]*Record),
		byChat:  make(map[string]string),
		now:     now,
	}
}

func (s *MemoryStore) GetByCandidateID(_ context.Context, candidateID string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[candidateID]
	if !ok {
		return nil, fmt.Errorf("candidate id %q: %w", candidateID, ErrNotFound)
	}
	return rec.Clone(), nil
}

func (s *MemoryStore) GetByChatID(_ context.Context, chatID string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byChat[chatID]
	if !ok || chatID == "" {
		return nil, fmt.Errorf("chat id %q: %w", chatID, ErrNotFound)
	}
	return s.records[id].Clone(), nil
}

func (s *MemoryStore) FindByNameAndJob(_ context.Context, name, job string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name = strings.TrimSpace(name)
	job = strings.TrimSpace(job)

	var found *Record
	for _, rec := range s.records {
		if rec.Name != name || rec.JobApplied != job {
			continue
		}
		if found == nil || rec.UpdatedAt.After(found.UpdatedAt) {
			found = rec
		}
	}
	if found == nil {
		return nil, fmt.Errorf("name %q job %q: %w", name, job, ErrNotFound)
	}
	return found.Clone(), nil
}

func (s *MemoryStore) Upsert(_ context.Context, record *Record) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if record == nil {
		return nil, fmt.Errorf("record is required")
	}

	merged, err := Merge(s.records[record.CandidateID], record, s.now().UTC())
	if err != nil {
		return nil, err
	}

	if merged.ChatID != "" {
		if owner, ok := s.byChat[merged.ChatID]; ok && owner != merged.CandidateID {
			return nil, fmt.Errorf("%w: chat %s belongs to candidate %s", ErrChatIDConflict, merged.ChatID, owner)
		}
		s.byChat[merged.ChatID] = merged.CandidateID
	}

	s.records[merged.CandidateID] = merged
	return merged.Clone(), nil
}

func (s *MemoryStore) QueryStale(_ context.Context, stages []Stage, olderThan time.Duration) ([]*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().UTC().Add(-olderThan)
	var stale []*Record
	for _, rec := range s.records {
		if !slices.Contains(stages, rec.Stage) {
			continue
		}
		if !rec.UpdatedAt.Before(cutoff) {
			continue
		}
		stale = append(stale, rec.Clone())
	}

	sort.Slice(stale, func(i, j int) bool {
		if !stale[i].UpdatedAt.Equal(stale[j].UpdatedAt) {
			return stale[i].UpdatedAt.Before(stale[j].UpdatedAt)
		}
		return stale[i].CandidateID < stale[j].CandidateID
	})

	return stale, nil
}

// Len returns the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
