package config

import "time"

type APIConfig interface {
	GetAPIBaseURL() string
	GetRequestTimeout() time.Duration
	GetLoginTimeout() time.Duration
	GetOIDCIssuer() string
	GetOIDCClientID() string
	GetOIDCClientSecret() string
}

type API struct{}

var _ APIConfig = API{}

func (API) GetAPIBaseURL() string {
	return GetEnv("API_BASE_URL", "http://127.0.0.1:5001/api")
}

// GetRequestTimeout bounds profile, refresh and logout calls.
func (API) GetRequestTimeout() time.Duration {
	return GetEnvDuration("API_REQUEST_TIMEOUT", 90*time.Second)
}

// GetLoginTimeout is longer than the request timeout: cold starts of the
// backend make the first login slow.
func (API) GetLoginTimeout() time.Duration {
	return GetEnvDuration("API_LOGIN_TIMEOUT", 2*time.Minute)
}

// GetOIDCIssuer selects the OIDC client instead of the REST client when set.
func (API) GetOIDCIssuer() string {
	return GetEnv("OIDC_ISSUER", "")
}

func (API) GetOIDCClientID() string {
	return GetEnv("OIDC_CLIENT_ID", "")
}

func (API) GetOIDCClientSecret() string {
	return GetEnv("OIDC_CLIENT_SECRET", "")
}
