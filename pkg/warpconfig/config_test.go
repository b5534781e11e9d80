package warpconfig

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_FallsBackToBuiltinAnonymousToken(t *testing.T) {
	clearWarpEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.AnonymousRefreshToken)
	assert.Equal(t, "builtin-fallback-anonymous-refresh-token", cfg.AnonymousRefreshToken)
}

func TestLoad_CollectsPersonalAndSharedTokens(t *testing.T) {
	clearWarpEnv(t)
	t.Setenv("WARP_REFRESH_TOKEN", "personal-main")
	t.Setenv("WARP_PERSONAL_TOKENS", "personal-2, personal-3")
	t.Setenv("WARP_SHARED_TOKENS", "shared-1,shared-2")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"personal-main", "personal-2", "personal-3"}, cfg.PersonalRefreshTokens)
	assert.Equal(t, []string{"shared-1", "shared-2"}, cfg.SharedRefreshTokens)
}

func TestLoad_ParsesInsecureTLSFlag(t *testing.T) {
	clearWarpEnv(t)
	t.Setenv("WARP_INSECURE_TLS", "yes")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.InsecureTLS)
}

func TestApplyYAMLOverlay_MissingFileIsNotAnError(t *testing.T) {
	cfg := &Config{Endpoints: DefaultEndpoints()}
	err := ApplyYAMLOverlay(cfg, "/nonexistent/path/to/overlay.yaml")
	assert.NoError(t, err)
}

func TestApplyYAMLOverlay_OverridesQuotaMessages(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/overlay.yaml"
	err := os.WriteFile(path, []byte("quota_messages:\n  - \"custom quota message\"\n"), 0o600)
	require.NoError(t, err)

	cfg := &Config{QuotaMessages: DefaultQuotaMessages()}
	require.NoError(t, ApplyYAMLOverlay(cfg, path))
	assert.Equal(t, []string{"custom quota message"}, cfg.QuotaMessages)
}

func clearWarpEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"WARP_REFRESH_TOKEN",
		"WARP_PERSONAL_TOKENS",
		"WARP_SHARED_TOKENS",
		"WARP_ANONYMOUS_TOKEN",
		"WARP_INSECURE_TLS",
		"WARP_PROVISIONING_PROXY_URL",
	} {
		t.Setenv(key, "")
	}
}
