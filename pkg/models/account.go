package models

import "time"

// AuthMethod describes how an account authenticates with its platform
type AuthMethod string

const (
	// AuthCredentials means the vault holds a username/password pair and the
	// driver performs an interactive login.
	AuthCredentials AuthMethod = "credentials"
	// AuthCookies means the vault holds a captured cookie set and the driver
	// restores the session directly.
	AuthCookies AuthMethod = "cookies"
	// AuthExtension means no server-side secrets exist; jobs for this account
	// are relayed to the user's own browser over the extension WebSocket.
	AuthExtension AuthMethod = "extension"
)

// Account binds a user to a platform identity. The payload is an encrypted
// blob (credentials or cookie set) that stays opaque until just before use.
type Account struct {
	ID         string     `json:"id"`
	UserID     string     `json:"userId"`
	Platform   Platform   `json:"platform"`
	AuthMethod AuthMethod `json:"authMethod"`
	Handle     string     `json:"handle,omitempty"`
	Payload    []byte     `json:"-"`
	IsActive   bool       `json:"isActive"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

// Credentials is the decrypted payload for credential-based accounts
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
	// Email is used when the platform asks for confirmation mid-login
	Email string `json:"email,omitempty"`
}

// SessionCookie is the minimal cookie representation shared between the
// extension, the backend, and the automation drivers.
type SessionCookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires,omitempty"`
	HTTPOnly bool    `json:"httpOnly,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
	SameSite string  `json:"sameSite,omitempty"`
}

// CreateAccountRequest is the payload for connecting an account
type CreateAccountRequest struct {
	UserID      string          `json:"userId"`
	Platform    Platform        `json:"platform"`
	AuthMethod  AuthMethod      `json:"authMethod"`
	Handle      string          `json:"handle,omitempty"`
	Credentials *Credentials    `json:"credentials,omitempty"`
	Cookies     []SessionCookie `json:"cookies,omitempty"`
}
