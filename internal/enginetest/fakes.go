// Package enginetest provides fixture helpers shared across the
// engine's test suites: a fake clock, a fake Credential Exchanger, and
// a fake Upstream Driver, following the teacher's internal/testutil
// pattern of httptest-free collaborator fakes for fast, deterministic
// unit tests.
package enginetest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/cecil-the-coder/warp-token-gateway/pkg/credex"
	"github.com/cecil-the-coder/warp-token-gateway/pkg/warpstream"
	"github.com/cecil-the-coder/warp-token-gateway/pkg/warptypes"
)

// Clock is a mutable, explicit time source for pinning boundary
// behavior in tests (spec P10).
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// FakeExchanger is a scripted credex.Exchanger. RefreshFunc and
// ProvisionFunc default to always succeeding with a fixed one-hour
// credential when nil.
type FakeExchanger struct {
	mu sync.Mutex

	RefreshFunc  func(ctx context.Context, refreshToken string) (*oauth2.Token, error)
	ProvisionFunc func(ctx context.Context) (string, *oauth2.Token, error)

	RefreshCalls    []string
	ProvisionCalls  int
}

func (f *FakeExchanger) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	f.mu.Lock()
	f.RefreshCalls = append(f.RefreshCalls, refreshToken)
	f.mu.Unlock()

	if f.RefreshFunc != nil {
		return f.RefreshFunc(ctx, refreshToken)
	}
	return &oauth2.Token{AccessToken: "access-" + refreshToken, Expiry: time.Now().Add(time.Hour)}, nil
}

func (f *FakeExchanger) ProvisionAnonymous(ctx context.Context) (string, *oauth2.Token, error) {
	f.mu.Lock()
	f.ProvisionCalls++
	f.mu.Unlock()

	if f.ProvisionFunc != nil {
		return f.ProvisionFunc(ctx)
	}
	return "", nil, fmt.Errorf("enginetest: no ProvisionFunc configured")
}

// FakeDriver is a scripted warpengine.UpstreamDriver. Responses is
// consumed in order across successive Drive calls; the last entry
// repeats once exhausted.
type FakeDriver struct {
	mu        sync.Mutex
	Responses []DriveResponse
	calls     int
	Calls     []DriveCall
}

type DriveCall struct {
	Payload     []byte
	AccessToken string
}

type DriveResponse struct {
	Result  *warptypes.EventStreamResult
	Failure *warpstream.UpstreamFailure
	Err     error
}

func (d *FakeDriver) Drive(_ context.Context, payload []byte, accessToken string) (*warptypes.EventStreamResult, *warpstream.UpstreamFailure, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.Calls = append(d.Calls, DriveCall{Payload: payload, AccessToken: accessToken})

	idx := d.calls
	if idx >= len(d.Responses) {
		idx = len(d.Responses) - 1
	}
	d.calls++

	if idx < 0 {
		return nil, nil, fmt.Errorf("enginetest: no responses configured")
	}
	resp := d.Responses[idx]
	return resp.Result, resp.Failure, resp.Err
}

// Fixed200 is a convenience constructor for a successful response.
func Fixed200(result *warptypes.EventStreamResult) DriveResponse {
	return DriveResponse{Result: result}
}

// FixedStatus is a convenience constructor for a non-200 response.
func FixedStatus(status int, body string) DriveResponse {
	return DriveResponse{Failure: &warpstream.UpstreamFailure{Status: status, Body: body}}
}

var _ credex.Exchanger = (*FakeExchanger)(nil)
