package token

import "fmt"

// Credentials is the access/refresh token pair issued by the backend. Both
// fields are set or the pair is treated as absent.
type Credentials struct {
	AccessToken  string `json:"access_token"`  // Short-lived bearer token
	RefreshToken string `json:"refresh_token"` // Opaque token used only to obtain a new access token
}

// Complete reports whether both tokens are present.
func (c Credentials) Complete() bool {
	return c.AccessToken != "" && c.RefreshToken != ""
}

// Empty reports whether neither token is present.
func (c Credentials) Empty() bool {
	return c.AccessToken == "" && c.RefreshToken == ""
}

// Rotate returns the credentials after a refresh. Backends may omit the
// refresh token from a refresh response, in which case the previous one stays valid.
func (c Credentials) Rotate(next Credentials) Credentials {
	if next.RefreshToken == "" {
		next.RefreshToken = c.RefreshToken
	}
	return next
}

// Redacted is safe for logs.
func (c Credentials) Redacted() string {
	return fmt.Sprintf("access=%s refresh=%s", redact(c.AccessToken), redact(c.RefreshToken))
}

// String implements fmt.Stringer so credentials never print in full.
func (c Credentials) String() string {
	return c.Redacted()
}

func redact(s string) string {
	switch {
	case s == "":
		return "<none>"
	case len(s) <= 8:
		return "****"
	default:
		return s[:4] + "****" + s[len(s)-2:]
	}
}
