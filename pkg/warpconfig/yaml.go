package warpconfig

import (
	"os"

	"gopkg.in/yaml.v3"
)

// staticOverlay is the subset of Config that is safe to externalize
// into a non-secret YAML file: endpoint URLs, quota message strings,
// and the compatibility-critical client headers. Refresh tokens and
// proxy credentials are never read from this file.
type staticOverlay struct {
	Endpoints     Endpoints       `yaml:"endpoints"`
	QuotaMessages []string        `yaml:"quota_messages"`
	ClientHeaders ClientHeaders   `yaml:"client_headers"`
	Timeouts      TimeoutSettings `yaml:"timeouts"`
}

// ApplyYAMLOverlay reads a YAML file of static, non-secret settings and
// overlays any fields it sets onto cfg. A missing file is not an error;
// callers typically call this only when an override path is configured.
func ApplyYAMLOverlay(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var overlay staticOverlay
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return err
	}

	if overlay.Endpoints.UpstreamURL != "" {
		cfg.Endpoints.UpstreamURL = overlay.Endpoints.UpstreamURL
	}
	if overlay.Endpoints.IdentityRefreshURL != "" {
		cfg.Endpoints.IdentityRefreshURL = overlay.Endpoints.IdentityRefreshURL
	}
	if overlay.Endpoints.IdentityRefreshAPIKey != "" {
		cfg.Endpoints.IdentityRefreshAPIKey = overlay.Endpoints.IdentityRefreshAPIKey
	}
	if overlay.Endpoints.GraphQLAnonymousUserURL != "" {
		cfg.Endpoints.GraphQLAnonymousUserURL = overlay.Endpoints.GraphQLAnonymousUserURL
	}
	if overlay.Endpoints.IdentityCustomTokenURL != "" {
		cfg.Endpoints.IdentityCustomTokenURL = overlay.Endpoints.IdentityCustomTokenURL
	}
	if len(overlay.QuotaMessages) > 0 {
		cfg.QuotaMessages = overlay.QuotaMessages
	}
	if overlay.ClientHeaders != (ClientHeaders{}) {
		cfg.ClientHeaders = overlay.ClientHeaders
	}
	if overlay.Timeouts.UpstreamReadTimeout > 0 {
		cfg.UpstreamClient.UpstreamReadTimeout = overlay.Timeouts.UpstreamReadTimeout
	}
	if overlay.Timeouts.RefreshTimeout > 0 {
		cfg.UpstreamClient.RefreshTimeout = overlay.Timeouts.RefreshTimeout
	}
	if overlay.Timeouts.ProvisioningTimeout > 0 {
		cfg.UpstreamClient.ProvisioningTimeout = overlay.Timeouts.ProvisioningTimeout
	}

	return nil
}
