// Package warpstream implements the Upstream Driver: one HTTP/2 POST
// against the Warp AI endpoint, with the protobuf-over-SSE response
// decoded into a warptypes.EventStreamResult.
package warpstream

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/net/http2"

	"github.com/cecil-the-coder/warp-token-gateway/internal/protobridge"
	"github.com/cecil-the-coder/warp-token-gateway/pkg/warpconfig"
	"github.com/cecil-the-coder/warp-token-gateway/pkg/warptypes"
)

// ResponseEventMessageType is the fully-qualified protobuf message name
// decoded off every SSE frame (spec §6, outbound wire-level contract).
const ResponseEventMessageType = "warp.multi_agent.v1.ResponseEvent"

// UpstreamFailure is returned for any non-200 upstream response. The
// Retry Controller classifies it; the driver itself never interprets
// status codes beyond recognizing 200.
type UpstreamFailure struct {
	Status int
	Body   string
}

func (f *UpstreamFailure) Error() string {
	return fmt.Sprintf("warpstream: upstream returned status %d", f.Status)
}

// Driver issues the single outbound HTTP/2 client call described in
// spec §4.4 and §5 ("one outbound HTTP/2 client per process").
type Driver struct {
	client            *http.Client
	headers           warpconfig.ClientHeaders
	url               string
	codec             protobridge.Codec
	logger            *slog.Logger
	inactivityTimeout time.Duration
}

// New builds a Driver. It explicitly configures an http2.Transport
// (rather than relying on implicit protocol negotiation) so the
// dependency is exercised directly, matching the "one outbound HTTP/2
// client" resource policy.
func New(cfg *warpconfig.Config, codec protobridge.Codec, logger *slog.Logger) (*Driver, error) {
	if logger == nil {
		logger = slog.Default()
	}

	transport := &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: cfg.InsecureTLS}, //nolint:gosec // WARP_INSECURE_TLS is an explicit opt-in for debugging
	}
	if err := http2.ConfigureTransport(transport); err != nil {
		return nil, fmt.Errorf("warpstream: configuring http2 transport: %w", err)
	}

	// UpstreamReadTimeout governs read *inactivity*, not the total
	// round trip: an SSE stream that is actively receiving data may
	// legitimately run far longer than this value (matching the
	// original client's httpx.Timeout read-timeout semantics). It is
	// enforced in Drive via inactivityWatchdog, reset on every scanned
	// line, rather than via http.Client.Timeout, which would cover the
	// whole response body read.
	client := &http.Client{
		Transport: transport,
	}

	return &Driver{
		client:            client,
		headers:           cfg.ClientHeaders,
		url:               cfg.Endpoints.UpstreamURL,
		codec:             codec,
		logger:            logger,
		inactivityTimeout: cfg.UpstreamClient.UpstreamReadTimeout,
	}, nil
}

// Drive performs the request described in spec §4.4. On a non-200
// status it returns (nil, *UpstreamFailure, nil); on a network-level
// failure before any bytes are decoded (including context
// cancellation) it returns (nil, nil, err); on a stream-decode failure
// it returns the partially-decoded result alongside a non-nil err; on
// success it returns the decoded event stream.
func (d *Driver) Drive(ctx context.Context, payload []byte, accessToken string) (*warptypes.EventStreamResult, *UpstreamFailure, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(payload))
	if err != nil {
		return nil, nil, fmt.Errorf("warpstream: building request: %w", err)
	}

	req.Header.Set("accept", "text/event-stream")
	req.Header.Set("content-type", "application/x-protobuf")
	req.Header.Set("authorization", "Bearer "+accessToken)
	req.Header.Set("x-warp-client-version", d.headers.ClientVersion)
	req.Header.Set("x-warp-os-category", d.headers.OSCategory)
	req.Header.Set("x-warp-os-name", d.headers.OSName)
	req.Header.Set("x-warp-os-version", d.headers.OSVersion)
	req.Header.Set("content-length", strconv.Itoa(len(payload)))

	resp, err := d.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, fmt.Errorf("warpstream: request cancelled: %w", ctx.Err())
		}
		return nil, nil, fmt.Errorf("warpstream: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, &UpstreamFailure{Status: resp.StatusCode, Body: string(body)}, nil
	}

	resetInactivity, stopInactivity := d.inactivityWatchdog(resp.Body)
	defer stopInactivity()

	result, err := decodeSSE(resp.Body, d.codec, d.logger, resetInactivity)
	if err != nil {
		// A protocol error still carries whatever was decoded before
		// the stream broke (spec §7 category 5); the caller classifies
		// and attaches it, so the partial result is propagated too.
		return result, nil, err
	}
	return result, nil, nil
}

// inactivityWatchdog closes body (unblocking any in-flight Read) if
// more than d.inactivityTimeout elapses without a call to the returned
// reset function. It replaces a total-duration http.Client.Timeout,
// which would kill a stream that is actively, legitimately, receiving
// data for longer than the timeout.
func (d *Driver) inactivityWatchdog(body io.Closer) (reset func(), stop func()) {
	if d.inactivityTimeout <= 0 {
		return func() {}, func() {}
	}

	timer := time.AfterFunc(d.inactivityTimeout, func() {
		_ = body.Close()
	})
	return func() { timer.Reset(d.inactivityTimeout) }, func() { timer.Stop() }
}
