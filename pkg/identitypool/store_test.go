package identitypool

import (
	"testing"
	"time"

	"github.com/cecil-the-coder/warp-token-gateway/pkg/warptypes"
)

func TestStore_AddIsIdempotent(t *testing.T) {
	s := NewStore()
	a := s.Add("tok-1", warptypes.PriorityPersonal)
	b := s.Add("tok-1", warptypes.PriorityPersonal)

	if a != b {
		t.Fatalf("expected Add to return the same record for a repeated token")
	}
	if got := s.Stats().Total; got != 1 {
		t.Fatalf("expected 1 record, got %d", got)
	}
}

func TestStore_MarkFailureDeactivatesAtThreshold(t *testing.T) {
	s := NewStore()
	s.Add("tok-1", warptypes.PrioritySharedClass)

	for i := 0; i < warptypes.DeactivationThreshold-1; i++ {
		if deactivated := s.MarkFailure("tok-1"); deactivated {
			t.Fatalf("did not expect deactivation before threshold, failure %d", i+1)
		}
	}

	if deactivated := s.MarkFailure("tok-1"); !deactivated {
		t.Fatalf("expected deactivation on the %d-th failure", warptypes.DeactivationThreshold)
	}

	rec := s.Get("tok-1")
	if rec.Active {
		t.Fatalf("expected record to be inactive after reaching the failure threshold")
	}
}

func TestStore_MarkSuccessResetsFailuresAndReactivates(t *testing.T) {
	s := NewStore()
	s.Add("tok-1", warptypes.PriorityPersonal)
	s.MarkFailure("tok-1")
	s.MarkFailure("tok-1")
	s.MarkFailure("tok-1")

	expiry := time.Now().Add(time.Hour)
	s.MarkSuccess("tok-1", "access-xyz", expiry)

	rec := s.Get("tok-1")
	if !rec.Active {
		t.Fatalf("expected MarkSuccess to reactivate the record")
	}
	if rec.FailureCount != 0 {
		t.Fatalf("expected failure count reset, got %d", rec.FailureCount)
	}
	if rec.CachedAccessToken != "access-xyz" {
		t.Fatalf("expected cached access token to be updated")
	}
}

func TestStore_RecoverReactivatesAllFailed(t *testing.T) {
	s := NewStore()
	s.Add("tok-1", warptypes.PriorityPersonal)
	s.Add("tok-2", warptypes.PriorityPersonal)

	for i := 0; i < warptypes.DeactivationThreshold; i++ {
		s.MarkFailure("tok-1")
		s.MarkFailure("tok-2")
	}

	recovered := s.Recover()
	if recovered != 2 {
		t.Fatalf("expected 2 records recovered, got %d", recovered)
	}

	stats := s.Stats()
	if stats.Active != 2 || stats.Failed != 0 {
		t.Fatalf("expected all records active after recovery, got %+v", stats)
	}
}

func TestStore_LastUsedTracksMostRecentSelection(t *testing.T) {
	s := NewStore()
	s.Add("tok-1", warptypes.PriorityAnonymous)
	s.Add("tok-2", warptypes.PriorityAnonymous)

	base := time.Now()
	s.Next(base)
	s.Next(base.Add(time.Second))

	last := s.LastUsed()
	if last == nil {
		t.Fatalf("expected a last-used record")
	}
	if last.RefreshToken != "tok-2" {
		t.Fatalf("expected tok-2 to be last used, got %s", last.RefreshToken)
	}
}
