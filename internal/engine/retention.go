package engine

import (
	"time"

	"github.com/harrison/autopilot/internal/models"
)

// Retention bounds the completed-results map.
type Retention struct {
	MaxResults int           // Oldest results are evicted past this count; 0 means unbounded
	TTL        time.Duration // Results older than this are dropped; 0 means no expiry
}

// DefaultRetention keeps 500 results for a day.
func DefaultRetention() Retention {
	return Retention{MaxResults: 500, TTL: 24 * time.Hour}
}

type storedResult struct {
	result   models.GoalResult
	storedAt time.Time
}

// resultStore is not safe for concurrent use; the engine guards it.
type resultStore struct {
	policy  Retention
	entries map[string]storedResult
	order   []string // Insertion order, oldest first
}

func newResultStore(policy Retention) *resultStore {
	return &resultStore{
		policy:  policy,
		entries: make(map[string]storedResult),
	}
}

func (s *resultStore) put(id string, result models.GoalResult, now time.Time) {
	if _, exists := s.entries[id]; exists {
		s.remove(id)
	}
	s.entries[id] = storedResult{result: result, storedAt: now}
	s.order = append(s.order, id)
	s.prune(now)
}

func (s *resultStore) get(id string, now time.Time) (models.GoalResult, bool) {
	s.prune(now)
	entry, ok := s.entries[id]
	return entry.result, ok
}

// has reports whether a result is held for id, expired or not.
func (s *resultStore) has(id string) bool {
	_, ok := s.entries[id]
	return ok
}

func (s *resultStore) len(now time.Time) int {
	s.prune(now)
	return len(s.entries)
}

func (s *resultStore) remove(id string) {
	delete(s.entries, id)
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			return
		}
	}
}

func (s *resultStore) prune(now time.Time) {
	if s.policy.TTL > 0 {
		cutoff := now.Add(-s.policy.TTL)
		drop := 0
		for _, id := range s.order {
			if !s.entries[id].storedAt.Before(cutoff) {
				break
			}
			delete(s.entries, id)
			drop++
		}
		s.order = s.order[drop:]
	}

	if s.policy.MaxResults > 0 {
		for len(s.order) > s.policy.MaxResults {
			delete(s.entries, s.order[0])
			s.order = s.order[1:]
		}
	}
}
