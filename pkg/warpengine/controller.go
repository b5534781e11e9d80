// Package warpengine implements the Retry Controller: it orchestrates
// the Identity Store, the Credential Exchanger, and the Upstream Driver
// through the state machine of spec §4.5, bounded to at most two
// upstream SSE transactions per request.
package warpengine

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cecil-the-coder/warp-token-gateway/pkg/credex"
	"github.com/cecil-the-coder/warp-token-gateway/pkg/identitypool"
	"github.com/cecil-the-coder/warp-token-gateway/pkg/warpstream"
	"github.com/cecil-the-coder/warp-token-gateway/pkg/warptypes"
)

// Controller is the Retry Controller. It holds references to the three
// components it orchestrates; it carries no per-request state itself —
// every DriveRequest call builds its own local attempt record (spec §5:
// "Per-request state ... is strictly local").
type Controller struct {
	store     *identitypool.Store
	exchanger credex.Exchanger
	driver    UpstreamDriver
	clock     func() time.Time
	logger    *slog.Logger

	quotaMessages []string

	// fallbackAccessToken is used only when the pool has no selectable
	// identity at all at SelectInitial time (spec §4.5: "if absent
	// fall back to a configuration-provided JWT"). No identity state
	// is mutated when this path is taken.
	fallbackAccessToken string
}

// Option configures a Controller at construction time.
type Option func(*Controller)

// WithLogger overrides the default slog.Default() logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock overrides the time source (tests use a fixed clock to pin
// credential-expiry boundary behavior, spec P10).
func WithClock(clock func() time.Time) Option {
	return func(c *Controller) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithFallbackAccessToken sets the configuration-provided JWT used when
// the pool has no selectable identity at SelectInitial.
func WithFallbackAccessToken(token string) Option {
	return func(c *Controller) {
		c.fallbackAccessToken = token
	}
}

// UpstreamDriver is the Upstream Driver contract the controller
// depends on. *warpstream.Driver satisfies it; tests substitute a fake.
type UpstreamDriver interface {
	Drive(ctx context.Context, payload []byte, accessToken string) (*warptypes.EventStreamResult, *warpstream.UpstreamFailure, error)
}

// New builds a Controller over an already-populated identity store.
func New(store *identitypool.Store, exchanger credex.Exchanger, driver UpstreamDriver, quotaMessages []string, opts ...Option) *Controller {
	c := &Controller{
		store:         store,
		exchanger:     exchanger,
		driver:        driver,
		clock:         time.Now,
		logger:        slog.Default(),
		quotaMessages: quotaMessages,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// attempt is the strictly-local per-request state.
type attempt struct {
	requestID      string
	sendCount      int
	currentRefresh string // empty when using the fallback JWT
	currentAccess  string
	currentExpiry  time.Time
}

// DriveRequest implements the core's single inbound operation (spec
// §6). On success it returns the decoded event stream; on failure it
// returns a *Error describing one of the eight categories of §7.
func (c *Controller) DriveRequest(ctx context.Context, envelope warptypes.RequestEnvelope) (*warptypes.EventStreamResult, error) {
	a := &attempt{requestID: uuid.NewString()}
	c.logger.Debug("drive_request starting", "request_id", a.requestID)

	if err := c.selectInitial(ctx, a); err != nil {
		return nil, err
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, errNetworkError("request cancelled").WithOriginalErr(err)
		}

		result, failure, sendErr := c.send(ctx, a, envelope)
		if sendErr != nil {
			return nil, sendErr
		}
		if failure == nil {
			c.succeed(a)
			return result, nil
		}

		rotated, terminal, err := c.classify(ctx, a, failure)
		if err != nil {
			return nil, err
		}
		if terminal != nil {
			return nil, terminal
		}
		if !rotated {
			return nil, errNetworkError("classification produced neither rotation nor terminal result")
		}
		// loop around to Send with the rotated identity/credential.
	}
}

// selectInitial implements the SelectInitial state.
func (c *Controller) selectInitial(ctx context.Context, a *attempt) error {
	now := c.clock()
	rec := c.store.Next(now)
	if rec == nil {
		if c.fallbackAccessToken != "" {
			a.currentAccess = c.fallbackAccessToken
			return nil
		}
		return errPoolExhausted("no selectable identity and no fallback credential configured")
	}

	accessToken, expiry, err := c.ensureUsableCredential(ctx, rec, now)
	if err != nil {
		return err
	}

	a.currentRefresh = rec.RefreshToken
	a.currentAccess = accessToken
	a.currentExpiry = expiry
	return nil
}

// ensureUsableCredential returns a usable access credential for rec,
// refreshing it if the cached one is inside the usability buffer (spec
// P10) or absent. It never writes through to the store on success: per
// spec P5, only the identity that ultimately succeeds has its cached
// credential persisted, via succeed's call to store.MarkSuccess. On
// failure it only marks the identity's failure count when the vendor
// itself rejected the refresh token (spec §7 category 1); a cancelled
// context or a transport-level failure (spec category 6) says nothing
// about the credential's validity and must not be attributed to it
// (spec P7, P11).
func (c *Controller) ensureUsableCredential(ctx context.Context, rec *warptypes.IdentityRecord, now time.Time) (string, time.Time, error) {
	if rec.CredentialUsable(now) {
		return rec.CachedAccessToken, rec.CachedAccessExpiry, nil
	}

	token, err := c.exchanger.Refresh(ctx, rec.RefreshToken)
	if err != nil {
		if ctx.Err() != nil {
			return "", time.Time{}, errNetworkError("request cancelled").WithOriginalErr(ctx.Err())
		}

		var rejected *credex.RefreshRejectedError
		if errors.As(err, &rejected) {
			c.store.MarkFailure(rec.RefreshToken)
			return "", time.Time{}, errCredentialFailure(err.Error()).WithOriginalErr(err)
		}

		return "", time.Time{}, errNetworkError(err.Error()).WithOriginalErr(err)
	}

	return token.AccessToken, token.Expiry, nil
}

// send implements the Send state: one upstream SSE transaction.
func (c *Controller) send(ctx context.Context, a *attempt, envelope warptypes.RequestEnvelope) (*warptypes.EventStreamResult, *warpstream.UpstreamFailure, error) {
	a.sendCount++
	result, upstreamFailure, err := c.driver.Drive(ctx, envelope.PayloadBytes, a.currentAccess)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, errNetworkError("request cancelled").WithOriginalErr(ctx.Err())
		}

		var streamErr *warpstream.StreamReadError
		if errors.As(err, &streamErr) {
			return nil, nil, errProtocolError(err.Error()).WithPartialResult(result).WithOriginalErr(err)
		}

		return nil, nil, errNetworkError(err.Error()).WithOriginalErr(err)
	}
	return result, upstreamFailure, nil
}

// succeed implements the Succeed state (spec P2, P5): exactly one
// identity has its failure count zeroed and credential cached; no other
// identity's state is mutated.
func (c *Controller) succeed(a *attempt) {
	if a.currentRefresh == "" {
		return // fallback JWT path: no identity state to mutate.
	}
	c.store.MarkSuccess(a.currentRefresh, a.currentAccess, a.currentExpiry)
}

func containsAny(body string, needles []string) bool {
	for _, n := range needles {
		if n != "" && strings.Contains(body, n) {
			return true
		}
	}
	return false
}
