package identitypool

import (
	"testing"
	"time"

	"github.com/cecil-the-coder/warp-token-gateway/pkg/warptypes"
)

func TestHealthReport_ReflectsCachedCredentialAndFailureState(t *testing.T) {
	s := NewStore()
	rec := s.Add("anon-1", warptypes.PriorityAnonymous)
	now := time.Now()
	s.UpdateCache(rec.RefreshToken, "access-1", now.Add(time.Hour))

	s.Add("personal-1", warptypes.PriorityPersonal)
	for i := 0; i < warptypes.DeactivationThreshold; i++ {
		s.MarkFailure("personal-1")
	}

	report := s.HealthReport(now)
	if report.Total != 2 {
		t.Fatalf("expected 2 identities in the report, got %d", report.Total)
	}
	if report.Healthy != 1 || report.Unhealthy != 1 {
		t.Fatalf("expected 1 healthy and 1 unhealthy identity, got healthy=%d unhealthy=%d", report.Healthy, report.Unhealthy)
	}

	var anonRow, personalRow *warptypes.IdentityHealth
	for i := range report.Identities {
		switch report.Identities[i].Priority {
		case warptypes.PriorityAnonymous:
			anonRow = &report.Identities[i]
		case warptypes.PriorityPersonal:
			personalRow = &report.Identities[i]
		}
	}

	if anonRow == nil || !anonRow.HasCachedCredential || anonRow.CredentialExpiresInSec == nil {
		t.Fatalf("expected the anonymous row to report a cached credential, got %+v", anonRow)
	}
	if *anonRow.CredentialExpiresInSec <= 0 {
		t.Fatalf("expected a positive remaining credential lifetime, got %f", *anonRow.CredentialExpiresInSec)
	}

	if personalRow == nil || personalRow.Healthy || personalRow.HasCachedCredential {
		t.Fatalf("expected the personal row to be unhealthy with no cached credential, got %+v", personalRow)
	}
}

func TestRecoverFailed_ResurrectsDeactivatedIdentities(t *testing.T) {
	s := NewStore()
	s.Add("anon-1", warptypes.PriorityAnonymous)
	for i := 0; i < warptypes.DeactivationThreshold; i++ {
		s.MarkFailure("anon-1")
	}

	if recovered := s.RecoverFailed(); recovered != 1 {
		t.Fatalf("expected 1 identity recovered, got %d", recovered)
	}

	rec := s.Get("anon-1")
	if !rec.Active || rec.FailureCount != 0 {
		t.Fatalf("expected the identity to be fully reset, got %+v", rec)
	}
}
