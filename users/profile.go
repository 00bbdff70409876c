package users

import (
	"strings"
	"time"

	"github.com/jrsteele09/go-auth-session/internal/utils"
)

// RoleType is the role the backend reports for a user.
type RoleType string

const (
	RoleUser  RoleType = "user"
	RoleAdmin RoleType = "admin"
)

// Profile is the user as returned by the backend profile endpoint. A copy is
// cached in the credential store so a UI can render before validation
// completes; that copy is advisory only.
type Profile struct {
	ID          string     `json:"id"`                     // Backend user ID
	Email       string     `json:"email"`                  // Login e-mail
	DisplayName *string    `json:"display_name,omitempty"` // Optional display name
	PhotoURL    *string    `json:"photo_url,omitempty"`    // Optional avatar URL
	Role        RoleType   `json:"role,omitempty"`         // user or admin
	CreatedAt   *time.Time `json:"created_at,omitempty"`   // Account creation time
}

// Name returns the display name, falling back to the local part of the e-mail.
func (p Profile) Name() string {
	if name := strings.TrimSpace(utils.Value(p.DisplayName)); name != "" {
		return name
	}
	local, _, _ := strings.Cut(p.Email, "@")
	return local
}

// IsAdmin reports whether the profile carries the admin role.
func (p Profile) IsAdmin() bool {
	return p.Role == RoleAdmin
}

// WithFallbacks fills fields the backend omitted. The role is preserved from
// the previously cached profile (the backend profile endpoint does not always
// return it), defaulting to RoleUser.
func (p Profile) WithFallbacks(cached *Profile) Profile {
	if p.Role == "" && cached != nil {
		p.Role = cached.Role
	}
	if p.Role == "" {
		p.Role = RoleUser
	}
	if p.DisplayName == nil && cached != nil && cached.ID == p.ID {
		p.DisplayName = cached.DisplayName
	}
	if p.PhotoURL == nil && cached != nil && cached.ID == p.ID {
		p.PhotoURL = cached.PhotoURL
	}
	return p
}

// Valid reports whether the profile identifies a user.
func (p *Profile) Valid() bool {
	return p != nil && p.ID != "" && p.Email != ""
}

// Equal compares the identifying and displayed fields of two profiles.
func (p *Profile) Equal(other *Profile) bool {
	if p == nil || other == nil {
		return p == other
	}
	return p.ID == other.ID &&
		p.Email == other.Email &&
		p.Role == other.Role &&
		utils.Value(p.DisplayName) == utils.Value(other.DisplayName) &&
		utils.Value(p.PhotoURL) == utils.Value(other.PhotoURL)
}
