package identitypool

import (
	"time"

	"github.com/cecil-the-coder/warp-token-gateway/pkg/warptypes"
)

// Next returns the next identity to try, honoring priority order
// (Anonymous, Shared, Personal) and round-robin fairness within each
// class (spec §4.3). It returns nil if the pool has no selectable
// identity at all.
func (s *Store) Next(now time.Time) *warptypes.IdentityRecord {
	return s.nextExcluding(now, nil)
}

// NextExcluding is Next but skips a specific refresh token, used when a
// just-failed identity must not be immediately re-selected within the
// same request (spec §4.5 RotateOnQuota/RotateOnServerError).
func (s *Store) NextExcluding(now time.Time, exclude string) *warptypes.IdentityRecord {
	return s.nextExcluding(now, &exclude)
}

func (s *Store) nextExcluding(now time.Time, exclude *string) *warptypes.IdentityRecord {
	for _, p := range warptypes.AllPriorities {
		if rec := s.nextInClass(p, exclude); rec != nil {
			s.touchLastUsed(rec, now)
			return rec
		}
	}
	return nil
}

// nextInClass advances the round-robin cursor for a single priority
// class and returns the next eligible record in that class, or nil if
// the class is currently empty of eligible records.
func (s *Store) nextInClass(priority warptypes.Priority, exclude *string) *warptypes.IdentityRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	candidates := s.snapshotByPriorityLocked(priority)
	if exclude != nil {
		filtered := candidates[:0:0]
		for _, r := range candidates {
			if r.RefreshToken != *exclude {
				filtered = append(filtered, r)
			}
		}
		candidates = filtered
	}
	if len(candidates) == 0 {
		return nil
	}

	idx := s.cursor[priority] % len(candidates)
	rec := candidates[idx]
	s.cursor[priority] = (idx + 1) % len(candidates)
	return rec
}
