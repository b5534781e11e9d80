package warpengine

import (
	"context"
	"time"

	"github.com/cecil-the-coder/warp-token-gateway/pkg/credex"
	"github.com/cecil-the-coder/warp-token-gateway/pkg/warpstream"
	"github.com/cecil-the-coder/warp-token-gateway/pkg/warptypes"
)

// classify implements the Classify state (spec §4.5). It returns
// (true, nil, nil) when a rotation occurred and the caller should Send
// again; it returns (false, terminalErr, nil) when the request ends in
// Fail; a non-nil err signals a transition that itself failed in a way
// the caller must propagate directly (credential-failure during
// rotation).
func (c *Controller) classify(ctx context.Context, a *attempt, failure *warpstream.UpstreamFailure) (rotated bool, terminal *Error, err error) {
	isQuota := failure.Status == 429 && containsAny(failure.Body, c.quotaMessages)
	isServerError := failure.Status == 500

	switch {
	case isQuota && a.sendCount == 1:
		return c.rotateOnQuota(ctx, a, failure)
	case isServerError && a.sendCount == 1:
		return c.rotateOnServerError(ctx, a, failure)
	default:
		return false, c.fail(a, failure), nil
	}
}

// rotateOnQuota implements the RotateOnQuota state: try another
// identity first, falling back to anonymous provisioning (spec §4.5).
func (c *Controller) rotateOnQuota(ctx context.Context, a *attempt, failure *warpstream.UpstreamFailure) (bool, *Error, error) {
	now := c.clock()
	next := c.store.NextExcluding(now, c.resolveExcludeToken(a))
	if next != nil {
		return c.applyRotation(ctx, a, next, now)
	}
	return c.provisionAnonymous(ctx, a, failure)
}

// resolveExcludeToken reports which identity rotation must skip. Usually
// that's the one currently in use; when the attempt is riding the
// configuration-provided fallback JWT (no tracked identity), it falls
// back to whichever identity was most recently selected.
func (c *Controller) resolveExcludeToken(a *attempt) string {
	if a.currentRefresh != "" {
		return a.currentRefresh
	}
	if last := c.store.LastUsed(); last != nil {
		return last.RefreshToken
	}
	return ""
}

// rotateOnServerError implements the RotateOnServerError state: same as
// RotateOnQuota but without the anonymous-provisioning fallback.
func (c *Controller) rotateOnServerError(ctx context.Context, a *attempt, failure *warpstream.UpstreamFailure) (bool, *Error, error) {
	now := c.clock()
	next := c.store.NextExcluding(now, c.resolveExcludeToken(a))
	if next != nil {
		return c.applyRotation(ctx, a, next, now)
	}
	return false, c.fail(a, failure), nil
}

// applyRotation swaps the attempt onto a newly selected identity,
// ensuring it has a usable credential before Send is retried.
func (c *Controller) applyRotation(ctx context.Context, a *attempt, next *warptypes.IdentityRecord, now time.Time) (bool, *Error, error) {
	accessToken, expiry, err := c.ensureUsableCredential(ctx, next, now)
	if err != nil {
		credErr, ok := err.(*Error)
		if ok {
			return false, credErr, nil
		}
		return false, errCredentialFailure(err.Error()).WithOriginalErr(err), nil
	}

	a.currentRefresh = next.RefreshToken
	a.currentAccess = accessToken
	a.currentExpiry = expiry
	return true, nil, nil
}

// provisionAnonymous implements the ProvisionAnonymous state (spec
// §4.5): on success the new identity is added to the store and used
// immediately; on vendor rate limit or any other failure, the request
// ends in Fail.
func (c *Controller) provisionAnonymous(ctx context.Context, a *attempt, failure *warpstream.UpstreamFailure) (bool, *Error, error) {
	refreshToken, token, err := c.exchanger.ProvisionAnonymous(ctx)
	if err != nil {
		c.markAttributableFailure(a, failure)

		var rateLimitErr *credex.RateLimitedError
		if isRateLimited(err, &rateLimitErr) {
			return false, errProvisioningRateLimited(rateLimitErr.Message).WithOriginalErr(err), nil
		}
		return false, errPoolExhausted("anonymous provisioning failed: " + err.Error()).WithOriginalErr(err), nil
	}

	rec := c.store.Add(refreshToken, warptypes.PriorityAnonymous)

	a.currentRefresh = rec.RefreshToken
	a.currentAccess = token.AccessToken
	a.currentExpiry = token.Expiry
	return true, nil, nil
}

// fail implements the Fail state's failure accounting: an attributable
// status (429/500/401) increments the current identity's failure count;
// non-attributable failures (e.g. any other status) do not.
func (c *Controller) fail(a *attempt, failure *warpstream.UpstreamFailure) *Error {
	c.markAttributableFailure(a, failure)

	switch failure.Status {
	case 401:
		return errUpstreamUnauthorized("upstream rejected the access credential")
	case 429:
		return errQuotaExhausted(failure.Body).WithStatus(429)
	case 500:
		return errUpstreamServerError(500, failure.Body)
	default:
		// Statuses outside the 401/429/500 set the taxonomy maps
		// (e.g. 403, 502, 503) are not server errors by assumption;
		// classify them distinctly instead of overloading
		// CategoryUpstreamServerError.
		return errUpstreamUnexpectedStatus(failure.Status, failure.Body)
	}
}

func (c *Controller) markAttributableFailure(a *attempt, failure *warpstream.UpstreamFailure) {
	if a.currentRefresh == "" {
		return
	}
	switch failure.Status {
	case 429, 500, 401:
		c.store.MarkFailure(a.currentRefresh)
	}
}

func isRateLimited(err error, target **credex.RateLimitedError) bool {
	rle, ok := err.(*credex.RateLimitedError)
	if ok {
		*target = rle
	}
	return ok
}
