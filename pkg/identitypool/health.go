package identitypool

import (
	"time"

	"github.com/cecil-the-coder/warp-token-gateway/pkg/warptypes"
)

// HealthReport builds the Health & Recovery snapshot described in spec
// §4.6: one row per identity, plus aggregate healthy/unhealthy counts.
func (s *Store) HealthReport(now time.Time) warptypes.HealthReport {
	records := s.All()

	report := warptypes.HealthReport{
		Identities: make([]warptypes.IdentityHealth, 0, len(records)),
	}

	for _, r := range records {
		row := warptypes.IdentityHealth{
			Name:                r.DisplayName,
			Priority:            r.Priority,
			Active:              r.Active,
			Healthy:             r.Active && !r.Deactivated(),
			FailureCount:        r.FailureCount,
			LastUsedAt:          r.LastUsedAt,
			HasCachedCredential: r.CachedAccessToken != "",
		}

		if row.HasCachedCredential {
			remaining := r.CachedAccessExpiry.Sub(now).Seconds()
			row.CredentialExpiresInSec = &remaining
		}

		if row.Healthy {
			report.Healthy++
		} else {
			report.Unhealthy++
		}
		report.Total++

		report.Identities = append(report.Identities, row)
	}

	return report
}

// RecoverFailed is the exported Health & Recovery operation: it resets
// every deactivated identity back to a clean, active state and returns
// how many were resurrected.
func (s *Store) RecoverFailed() int {
	return s.Recover()
}
