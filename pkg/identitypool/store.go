// Package identitypool holds the prioritized set of refresh-token
// identities and selects among them with round-robin fairness within
// each priority class. All mutation is serialized by a single mutex;
// no suspension point (network I/O) ever occurs while it is held.
package identitypool

import (
	"sync"
	"time"

	"github.com/cecil-the-coder/warp-token-gateway/pkg/warptypes"
)

// Store is the in-memory identity record collection described in
// spec §4.1. It is safe for concurrent use.
type Store struct {
	mu sync.Mutex

	records []*warptypes.IdentityRecord
	byToken map[string]*warptypes.IdentityRecord

	cursor map[warptypes.Priority]int
}

// NewStore returns an empty store.
func NewStore() *Store {
	s := &Store{
		byToken: make(map[string]*warptypes.IdentityRecord),
		cursor:  make(map[warptypes.Priority]int),
	}
	for _, p := range warptypes.AllPriorities {
		s.cursor[p] = 0
	}
	return s
}

// Add inserts a new identity record. Idempotent on refresh token: a
// second Add with the same token is a no-op (spec P8).
func (s *Store) Add(refreshToken string, priority warptypes.Priority) *warptypes.IdentityRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.byToken[refreshToken]; ok {
		return existing
	}

	rec := warptypes.NewIdentityRecord(refreshToken, priority)
	s.records = append(s.records, rec)
	s.byToken[refreshToken] = rec
	return rec
}

// selectable reports whether a record may currently be returned by the
// Selector: active and not in the failed set. The two must be kept
// consistent (spec invariant): a record with FailureCount >= threshold
// is always inactive.
func selectable(r *warptypes.IdentityRecord) bool {
	return r.Active && !r.Deactivated()
}

// snapshotByPriorityLocked returns the currently selectable subset of a
// class in insertion order. Caller must hold s.mu.
func (s *Store) snapshotByPriorityLocked(priority warptypes.Priority) []*warptypes.IdentityRecord {
	var out []*warptypes.IdentityRecord
	for _, r := range s.records {
		if r.Priority == priority && selectable(r) {
			out = append(out, r)
		}
	}
	return out
}

// SnapshotByPriority returns the currently selectable subset of a class,
// in stable (insertion) order.
func (s *Store) SnapshotByPriority(priority warptypes.Priority) []*warptypes.IdentityRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotByPriorityLocked(priority)
}

// MarkFailure increments the record's failure count, deactivating it
// once the count reaches warptypes.DeactivationThreshold. Returns
// whether the record is now deactivated.
func (s *Store) MarkFailure(refreshToken string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byToken[refreshToken]
	if !ok {
		return false
	}

	rec.FailureCount++
	if rec.FailureCount >= warptypes.DeactivationThreshold {
		rec.Active = false
		return true
	}
	return false
}

// MarkSuccess zeroes the failure count, reactivates the record, and
// caches the freshly exchanged access credential (spec P2, P5).
func (s *Store) MarkSuccess(refreshToken, accessCredential string, expiry time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byToken[refreshToken]
	if !ok {
		return
	}

	rec.FailureCount = 0
	rec.Active = true
	rec.CachedAccessToken = accessCredential
	rec.CachedAccessExpiry = expiry
}

// UpdateCache swaps the cached credential without otherwise touching
// failure bookkeeping. Used when a Refresh succeeds outside a full
// request cycle (e.g. while picking the identity to use).
func (s *Store) UpdateCache(refreshToken, accessCredential string, expiry time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byToken[refreshToken]
	if !ok {
		return
	}
	rec.CachedAccessToken = accessCredential
	rec.CachedAccessExpiry = expiry
}

// Recover zeroes the failure count and reactivates every currently
// deactivated record. Returns the count resurrected.
func (s *Store) Recover() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	recovered := 0
	for _, r := range s.records {
		if !r.Active {
			r.FailureCount = 0
			r.Active = true
			recovered++
		}
	}
	return recovered
}

// LastUsed returns the record with the greatest LastUsedAt, or nil if no
// record has ever been used.
func (s *Store) LastUsed() *warptypes.IdentityRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	var most *warptypes.IdentityRecord
	for _, r := range s.records {
		if r.LastUsedAt.IsZero() {
			continue
		}
		if most == nil || r.LastUsedAt.After(most.LastUsedAt) {
			most = r
		}
	}
	return most
}

// Get returns the record for a refresh token, or nil.
func (s *Store) Get(refreshToken string) *warptypes.IdentityRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byToken[refreshToken]
}

// touchLastUsed updates LastUsedAt under the store lock. Exposed for the
// Selector, which lives in this package but wants a named seam for the
// one field mutation the spec calls out explicitly (§4.3).
func (s *Store) touchLastUsed(r *warptypes.IdentityRecord, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r.LastUsedAt = now
}

// Stats returns a read-only projection of pool composition.
func (s *Store) Stats() warptypes.PoolStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := warptypes.PoolStats{
		ByPriority: make(map[warptypes.Priority]warptypes.PriorityStats),
	}

	for _, p := range warptypes.AllPriorities {
		var ps warptypes.PriorityStats
		for _, r := range s.records {
			if r.Priority != p {
				continue
			}
			ps.Total++
			if r.Active {
				ps.Active++
			} else {
				ps.Inactive++
			}
		}
		stats.ByPriority[p] = ps
		stats.Total += ps.Total
		stats.Active += ps.Active
		stats.Failed += ps.Inactive
	}

	return stats
}

// All returns every record currently in the store, in insertion order.
// Used by Health & Recovery reporting.
func (s *Store) All() []*warptypes.IdentityRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*warptypes.IdentityRecord, len(s.records))
	copy(out, s.records)
	return out
}
