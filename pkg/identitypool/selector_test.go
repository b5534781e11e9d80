package identitypool

import (
	"testing"
	"time"

	"github.com/cecil-the-coder/warp-token-gateway/pkg/warptypes"
)

func TestSelector_PrefersLowerPriorityNumberFirst(t *testing.T) {
	s := NewStore()
	s.Add("personal-1", warptypes.PriorityPersonal)
	s.Add("shared-1", warptypes.PrioritySharedClass)
	s.Add("anon-1", warptypes.PriorityAnonymous)

	rec := s.Next(time.Now())
	if rec == nil || rec.RefreshToken != "anon-1" {
		t.Fatalf("expected anonymous identity to be selected first, got %+v", rec)
	}
}

func TestSelector_RoundRobinsWithinClass(t *testing.T) {
	s := NewStore()
	s.Add("anon-1", warptypes.PriorityAnonymous)
	s.Add("anon-2", warptypes.PriorityAnonymous)
	s.Add("anon-3", warptypes.PriorityAnonymous)

	now := time.Now()
	seen := map[string]int{}
	for i := 0; i < 6; i++ {
		rec := s.Next(now)
		seen[rec.RefreshToken]++
	}

	for _, token := range []string{"anon-1", "anon-2", "anon-3"} {
		if seen[token] != 2 {
			t.Fatalf("expected each anonymous identity to be chosen twice over 6 picks, got %v", seen)
		}
	}
}

func TestSelector_FallsThroughToNextClassWhenEmpty(t *testing.T) {
	s := NewStore()
	s.Add("shared-1", warptypes.PrioritySharedClass)

	rec := s.Next(time.Now())
	if rec == nil || rec.RefreshToken != "shared-1" {
		t.Fatalf("expected fallthrough to the shared class, got %+v", rec)
	}
}

func TestSelector_ExcludesSpecifiedToken(t *testing.T) {
	s := NewStore()
	s.Add("anon-1", warptypes.PriorityAnonymous)
	s.Add("anon-2", warptypes.PriorityAnonymous)

	now := time.Now()
	rec := s.NextExcluding(now, "anon-1")
	if rec == nil || rec.RefreshToken != "anon-2" {
		t.Fatalf("expected exclusion to skip anon-1, got %+v", rec)
	}
}

func TestSelector_SkipsDeactivatedIdentities(t *testing.T) {
	s := NewStore()
	s.Add("anon-1", warptypes.PriorityAnonymous)
	s.Add("anon-2", warptypes.PriorityAnonymous)

	for i := 0; i < warptypes.DeactivationThreshold; i++ {
		s.MarkFailure("anon-1")
	}

	now := time.Now()
	for i := 0; i < 3; i++ {
		rec := s.Next(now)
		if rec.RefreshToken != "anon-2" {
			t.Fatalf("expected only the healthy identity to be selected, got %s", rec.RefreshToken)
		}
	}
}

func TestSelector_NextExcludingReturnsNilWhenSoleMemberExcludedAndNoOtherClass(t *testing.T) {
	s := NewStore()
	s.Add("anon-1", warptypes.PriorityAnonymous)

	rec := s.NextExcluding(time.Now(), "anon-1")
	if rec != nil {
		t.Fatalf("expected nil when the only identity is excluded and no other class has one, got %+v", rec)
	}
}

func TestSelector_ReturnsNilWhenPoolExhausted(t *testing.T) {
	s := NewStore()
	s.Add("anon-1", warptypes.PriorityAnonymous)

	for i := 0; i < warptypes.DeactivationThreshold; i++ {
		s.MarkFailure("anon-1")
	}

	if rec := s.Next(time.Now()); rec != nil {
		t.Fatalf("expected nil when every identity is deactivated, got %+v", rec)
	}
}
