// Package credex implements the Credential Exchanger: redemption of a
// refresh token for a short-lived access credential, and the two-step
// anonymous identity provisioning handshake.
package credex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/cecil-the-coder/warp-token-gateway/pkg/warpconfig"
)

// Exchanger is the Credential Exchanger contract consumed by the Retry
// Controller (spec §4.2).
type Exchanger interface {
	// Refresh redeems a refresh token for a fresh access credential.
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
	// ProvisionAnonymous mints a brand-new anonymous identity and
	// returns its durable refresh token alongside an immediately
	// usable access credential.
	ProvisionAnonymous(ctx context.Context) (refreshToken string, token *oauth2.Token, err error)
}

// RateLimitedError marks a vendor-reported rate limit on the
// provisioning path as terminal for the current request (spec §4.2,
// "Rate-limiting note").
type RateLimitedError struct {
	Message string
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("provisioning rate-limited: %s", e.Message)
}

// VendorError wraps a UserFacingError surfaced verbatim by the GraphQL
// anonymous-user-creation endpoint.
type VendorError struct {
	Message string
}

func (e *VendorError) Error() string {
	return fmt.Sprintf("vendor rejected anonymous provisioning: %s", e.Message)
}

// RefreshRejectedError marks a refresh attempt as attributable to the
// credential itself: the identity endpoint was reached and responded,
// but rejected the refresh token or returned a response Refresh cannot
// use. Callers distinguish this from a transport-level failure (which
// says nothing about the credential's validity) to decide whether the
// identity's failure count should be incremented.
type RefreshRejectedError struct {
	Message string
}

func (e *RefreshRejectedError) Error() string {
	return fmt.Sprintf("refresh rejected: %s", e.Message)
}

// HTTPExchanger is the production Exchanger, grounded in
// original_source/warp2protobuf/core/token_pool.py's refresh call and
// original_source/add_anonymous_token.py's two-step handshake.
type HTTPExchanger struct {
	endpoints warpconfig.Endpoints
	headers   warpconfig.ClientHeaders
	logger    *slog.Logger

	refreshClient      *http.Client
	provisioningClient *http.Client
	provisionLimiter   *rate.Limiter
}

// Option configures an HTTPExchanger at construction time, following
// the teacher's functional-options-free builder style (plain fields set
// via small With* constructors on the concrete type).
type Option func(*HTTPExchanger)

// WithLogger overrides the default slog.Default() logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *HTTPExchanger) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithProvisioningRateLimit overrides the default client-side
// provisioning throttle (spec §3 domain stack: golang.org/x/time/rate
// as a courtesy limiter, distinct from server-reported 429s).
func WithProvisioningRateLimit(r rate.Limit, burst int) Option {
	return func(e *HTTPExchanger) {
		e.provisionLimiter = rate.NewLimiter(r, burst)
	}
}

// NewHTTPExchanger builds an Exchanger. proxyURL, if non-empty, is
// applied to the provisioning client only (spec §4.2b: "both may
// traverse a configured HTTP proxy" refers to the two provisioning
// calls, never the refresh call or the upstream call).
func NewHTTPExchanger(cfg *warpconfig.Config, opts ...Option) (*HTTPExchanger, error) {
	e := &HTTPExchanger{
		endpoints:        cfg.Endpoints,
		headers:          cfg.ClientHeaders,
		logger:           slog.Default(),
		provisionLimiter: rate.NewLimiter(rate.Every(time.Second), 3),
	}

	e.refreshClient = &http.Client{Timeout: cfg.UpstreamClient.RefreshTimeout}

	provisioningTransport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.ProxyURL != "" {
		proxyURL, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("credex: parsing proxy url: %w", err)
		}
		provisioningTransport.Proxy = http.ProxyURL(proxyURL)
	}
	e.provisioningClient = &http.Client{
		Timeout:   cfg.UpstreamClient.ProvisioningTimeout,
		Transport: provisioningTransport,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e, nil
}

type refreshRequest struct {
	GrantType    string `json:"grant_type"`
	RefreshToken string `json:"refresh_token"`
}

type refreshResponse struct {
	AccessToken string `json:"access_token"`
	IDToken     string `json:"id_token"`
	ExpiresIn   string `json:"expires_in"`
}

// Refresh implements Exchanger.Refresh (spec §4.2a).
func (e *HTTPExchanger) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	body, err := json.Marshal(refreshRequest{GrantType: "refresh_token", RefreshToken: refreshToken})
	if err != nil {
		return nil, fmt.Errorf("credex: encoding refresh request: %w", err)
	}

	endpoint := e.endpoints.IdentityRefreshURL + "?key=" + url.QueryEscape(e.endpoints.IdentityRefreshAPIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("credex: building refresh request: %w", err)
	}
	req.Header.Set("content-type", "application/json")

	resp, err := e.refreshClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("credex: refresh request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("credex: reading refresh response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &RefreshRejectedError{Message: fmt.Sprintf("status %d: %s", resp.StatusCode, truncate(respBody, 200))}
	}

	var parsed refreshResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, &RefreshRejectedError{Message: "malformed response: " + err.Error()}
	}

	accessToken := parsed.AccessToken
	if accessToken == "" {
		accessToken = parsed.IDToken
	}
	if accessToken == "" {
		return nil, &RefreshRejectedError{Message: "response missing access_token and id_token"}
	}

	expiresIn, err := parseExpiresIn(parsed.ExpiresIn)
	if err != nil {
		return nil, &RefreshRejectedError{Message: "malformed expires_in: " + err.Error()}
	}

	token := &oauth2.Token{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		Expiry:       time.Now().Add(expiresIn),
	}

	e.logger.Debug("refreshed identity credential", "expires_in", expiresIn)
	return token, nil
}

func parseExpiresIn(raw string) (time.Duration, error) {
	if raw == "" {
		return time.Hour, nil
	}
	var seconds int64
	if _, err := fmt.Sscanf(raw, "%d", &seconds); err != nil {
		return 0, err
	}
	return time.Duration(seconds) * time.Second, nil
}

func truncate(b []byte, n int) string {
	s := string(b)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
