package credex

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cecil-the-coder/warp-token-gateway/pkg/warpconfig"
)

func newTestConfig(refreshURL string) *warpconfig.Config {
	return &warpconfig.Config{
		Endpoints: warpconfig.Endpoints{
			IdentityRefreshURL:      refreshURL,
			IdentityRefreshAPIKey:   "test-key",
			GraphQLAnonymousUserURL: refreshURL,
			IdentityCustomTokenURL:  refreshURL,
		},
		UpstreamClient: warpconfig.DefaultTimeouts(),
	}
}

func TestRefresh_ExtractsAccessTokenAndExpiry(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"access_token":"access-xyz","expires_in":"3600"}`))
	}))
	defer server.Close()

	exchanger, err := NewHTTPExchanger(newTestConfig(server.URL))
	require.NoError(t, err)

	token, err := exchanger.Refresh(context.Background(), "refresh-1")
	require.NoError(t, err)
	assert.Equal(t, "access-xyz", token.AccessToken)
	assert.True(t, token.Valid())
}

func TestRefresh_FallsBackToIDToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id_token":"id-xyz","expires_in":"3600"}`))
	}))
	defer server.Close()

	exchanger, err := NewHTTPExchanger(newTestConfig(server.URL))
	require.NoError(t, err)

	token, err := exchanger.Refresh(context.Background(), "refresh-1")
	require.NoError(t, err)
	assert.Equal(t, "id-xyz", token.AccessToken)
}

func TestRefresh_NonOKStatusIsAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"invalid_grant"}`))
	}))
	defer server.Close()

	exchanger, err := NewHTTPExchanger(newTestConfig(server.URL))
	require.NoError(t, err)

	_, err = exchanger.Refresh(context.Background(), "refresh-1")
	require.Error(t, err)

	var rejected *RefreshRejectedError
	assert.ErrorAs(t, err, &rejected, "a vendor-rejected refresh must be attributable to the credential")
}

func TestRefresh_UnreachableEndpointIsNotAttributableToCredential(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	unreachable := server.URL
	server.Close() // closed immediately: connections to it now fail

	exchanger, err := NewHTTPExchanger(newTestConfig(unreachable))
	require.NoError(t, err)

	_, err = exchanger.Refresh(context.Background(), "refresh-1")
	require.Error(t, err)

	var rejected *RefreshRejectedError
	assert.False(t, errors.As(err, &rejected), "a transport failure must not be classified as a credential rejection")
}

func TestRefresh_MissingFieldsIsAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	exchanger, err := NewHTTPExchanger(newTestConfig(server.URL))
	require.NoError(t, err)

	_, err = exchanger.Refresh(context.Background(), "refresh-1")
	require.Error(t, err)

	var rejected *RefreshRejectedError
	assert.ErrorAs(t, err, &rejected, "a malformed-but-reachable refresh response must be attributable to the credential")
}
