package warpstream

import (
	"context"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cecil-the-coder/warp-token-gateway/internal/protobridge"
	"github.com/cecil-the-coder/warp-token-gateway/pkg/warpconfig"
)

func newTestDriver(t *testing.T, handler http.HandlerFunc) (*Driver, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)

	cfg := &warpconfig.Config{
		Endpoints:      warpconfig.Endpoints{UpstreamURL: server.URL},
		ClientHeaders:  warpconfig.DefaultClientHeaders(),
		UpstreamClient: warpconfig.DefaultTimeouts(),
	}

	driver, err := New(cfg, protobridge.NewMapCodec(), discardLogger())
	require.NoError(t, err)
	return driver, server
}

func TestDrive_SendsCompatibilityHeaders(t *testing.T) {
	var gotHeaders http.Header
	driver, server := newTestDriver(t, func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		w.Header().Set("content-type", "text/event-stream")
		w.Write([]byte("data: [DONE]\n"))
	})
	defer server.Close()

	_, failure, err := driver.Drive(context.Background(), []byte("payload"), "access-tok")
	require.NoError(t, err)
	require.Nil(t, failure)

	assert.Equal(t, "text/event-stream", gotHeaders.Get("accept"))
	assert.Equal(t, "application/x-protobuf", gotHeaders.Get("content-type"))
	assert.Equal(t, "Bearer access-tok", gotHeaders.Get("authorization"))
	assert.NotEmpty(t, gotHeaders.Get("x-warp-client-version"))
	assert.NotEmpty(t, gotHeaders.Get("x-warp-os-category"))
	assert.Equal(t, "7", gotHeaders.Get("content-length"))
}

func TestDrive_NonOKStatusReturnsUpstreamFailure(t *testing.T) {
	driver, server := newTestDriver(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":"No remaining quota remaining for this user"}`))
	})
	defer server.Close()

	result, failure, err := driver.Drive(context.Background(), []byte("payload"), "access-tok")
	require.NoError(t, err)
	require.Nil(t, result)
	require.NotNil(t, failure)
	assert.Equal(t, http.StatusTooManyRequests, failure.Status)
	assert.Contains(t, failure.Body, "No remaining quota")
}

func TestDrive_SuccessfulStreamDecodesEvents(t *testing.T) {
	codec := protobridge.NewMapCodec()
	raw, err := codec.Encode("", map[string]any{"init": map[string]any{"conversation_id": "c-9"}})
	require.NoError(t, err)

	driver, server := newTestDriver(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("data: " + hex.EncodeToString(raw) + "\n\ndata: [DONE]\n"))
	})
	defer server.Close()

	result, failure, err := driver.Drive(context.Background(), []byte("payload"), "access-tok")
	require.NoError(t, err)
	require.Nil(t, failure)
	require.NotNil(t, result)
	assert.Equal(t, "c-9", result.ConversationID)
}
