package anomaly

import (
	"sync"
	"time"

	"github.com/medigate/backend/internal/models"
)

// FlagStore holds currently-flagged client addresses in memory. Entries live
// for the process lifetime unless explicitly removed; the persistent 24h-swept
// flag record is a separate tier kept in the flagged_ips table.
type FlagStore struct {
	mu      sync.RWMutex
	entries map[string]models.FlaggedIP
}

func NewFlagStore() *FlagStore {
	return &FlagStore{entries: make(map[string]models.FlaggedIP)}
}

// Flag inserts an entry if the address is not already flagged and reports
// whether the entry was newly created. First-write-wins: an active entry's
// reason and timestamp are never overwritten.
func (s *FlagStore) Flag(addr, reason string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[addr]; ok {
		return false
	}
	s.entries[addr] = models.FlaggedIP{
		IPAddress: addr,
		Reason:    reason,
		FlaggedAt: time.Now().UTC(),
	}
	return true
}

func (s *FlagStore) IsFlagged(addr string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.entries[addr]
	return ok
}

// Get returns the active entry for addr, if any.
func (s *FlagStore) Get(addr string) (models.FlaggedIP, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[addr]
	return entry, ok
}

// Unflag removes an entry. Admin override; re-flagging afterwards creates a
// fresh entry.
func (s *FlagStore) Unflag(addr string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, addr)
}

// List returns all active entries.
func (s *FlagStore) List() []models.FlaggedIP {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]models.FlaggedIP, 0, len(s.entries))
	for _, entry := range s.entries {
		entries = append(entries, entry)
	}
	return entries
}
