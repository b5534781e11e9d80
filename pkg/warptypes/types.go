// Package warptypes defines the core data model shared by the identity
// pool, credential exchanger, upstream driver, and retry controller.
package warptypes

import (
	"fmt"
	"time"
)

// Priority orders identity classes for selection. Lower values are
// preferred: Anonymous identities are disposable and cheap to mint,
// Personal identities carry scarce quota and are a last resort.
type Priority int

const (
	PriorityAnonymous Priority = iota + 1
	PrioritySharedClass
	PriorityPersonal
)

// String renders the priority the way log lines and display names expect.
func (p Priority) String() string {
	switch p {
	case PriorityAnonymous:
		return "ANONYMOUS"
	case PrioritySharedClass:
		return "SHARED"
	case PriorityPersonal:
		return "PERSONAL"
	default:
		return "UNKNOWN"
	}
}

// AllPriorities is the selection order the Selector honors: Anonymous
// first (to save personal quota), then Shared, then Personal.
var AllPriorities = []Priority{PriorityAnonymous, PrioritySharedClass, PriorityPersonal}

// DeactivationThreshold is the failure count at which an identity is
// deactivated and added to the failed set.
const DeactivationThreshold = 3

// CredentialUsableBuffer is the minimum remaining lifetime a cached
// access credential must have to be considered usable.
const CredentialUsableBuffer = 120 * time.Second

// IdentityRecord is one refresh-token identity in the pool.
type IdentityRecord struct {
	RefreshToken       string
	Priority           Priority
	DisplayName        string
	LastUsedAt         time.Time
	FailureCount       int
	Active             bool
	CachedAccessToken  string
	CachedAccessExpiry time.Time
}

// deriveDisplayName mirrors the original token pool's auto-generated
// name: "<PRIORITY>_<hash%10000>", used only for log readability.
func deriveDisplayName(priority Priority, refreshToken string) string {
	h := fnv32(refreshToken) % 10000
	return fmt.Sprintf("%s_%04d", priority, h)
}

func fnv32(s string) uint32 {
	const (
		offset32 = 2166136261
		prime32  = 16777619
	)
	hash := uint32(offset32)
	for i := 0; i < len(s); i++ {
		hash ^= uint32(s[i])
		hash *= prime32
	}
	return hash
}

// NewIdentityRecord constructs a fresh, active, unfailed record.
func NewIdentityRecord(refreshToken string, priority Priority) *IdentityRecord {
	return &IdentityRecord{
		RefreshToken: refreshToken,
		Priority:     priority,
		DisplayName:  deriveDisplayName(priority, refreshToken),
		Active:       true,
	}
}

// CredentialUsable reports whether the cached access credential still
// has more than CredentialUsableBuffer remaining (spec P10: exactly
// equal to the buffer is NOT usable).
func (r *IdentityRecord) CredentialUsable(now time.Time) bool {
	if r.CachedAccessToken == "" {
		return false
	}
	return r.CachedAccessExpiry.Sub(now) > CredentialUsableBuffer
}

// Deactivated reports whether the record has crossed the failure
// threshold.
func (r *IdentityRecord) Deactivated() bool {
	return r.FailureCount >= DeactivationThreshold
}

// RequestEnvelope is the boundary value handed into the core by the
// outer packet-builder subsystem. The core never inspects the payload
// beyond forwarding it.
type RequestEnvelope struct {
	PayloadBytes    []byte
	MessageTypeName string
}

// EventKind classifies a decoded ResponseEvent for routing purposes.
type EventKind int

const (
	EventUnknown EventKind = iota
	EventInit
	EventClientActions
	EventFinished
)

// DecodedEvent is one decoded ResponseEvent frame off the SSE stream.
type DecodedEvent struct {
	Kind        EventKind
	Raw         map[string]any
	ActionKinds []string // debug-only classification of client_actions sub-kinds
}

// EventStreamResult is the core's output for a successful drive_request.
type EventStreamResult struct {
	Text           string
	ConversationID string
	TaskID         string
	Events         []DecodedEvent
}

// PriorityStats is the per-class breakdown in a pool snapshot.
type PriorityStats struct {
	Total, Active, Inactive int
}

// PoolStats is a read-only, derived projection of the identity store.
type PoolStats struct {
	Total, Active, Failed int
	ByPriority            map[Priority]PriorityStats
}

// IdentityHealth is one row of a health report.
type IdentityHealth struct {
	Name                   string
	Priority               Priority
	Active                 bool
	Healthy                bool
	FailureCount           int
	LastUsedAt             time.Time
	HasCachedCredential    bool
	CredentialExpiresInSec *float64
}

// HealthReport is the full health snapshot returned by the core.
type HealthReport struct {
	Identities []IdentityHealth
	Total      int
	Healthy    int
	Unhealthy  int
}

// lookupAny tries each key in turn against a decoded map, tolerating
// both snake_case and camelCase field names observed from upstream.
func lookupAny(m map[string]any, keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			return v, true
		}
	}
	return nil, false
}

// LookupAny is the exported form used by the streaming decoder and by
// tests that need to assert on tolerant field lookup.
func LookupAny(m map[string]any, keys ...string) (any, bool) {
	return lookupAny(m, keys...)
}

// LookupString is LookupAny narrowed to the common string-valued case.
func LookupString(m map[string]any, keys ...string) string {
	v, ok := lookupAny(m, keys...)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// LookupMap is LookupAny narrowed to the common nested-object case.
func LookupMap(m map[string]any, keys ...string) (map[string]any, bool) {
	v, ok := lookupAny(m, keys...)
	if !ok {
		return nil, false
	}
	nested, ok := v.(map[string]any)
	return nested, ok
}

// LookupSlice is LookupAny narrowed to the common array-valued case.
func LookupSlice(m map[string]any, keys ...string) ([]any, bool) {
	v, ok := lookupAny(m, keys...)
	if !ok {
		return nil, false
	}
	s, ok := v.([]any)
	return s, ok
}
