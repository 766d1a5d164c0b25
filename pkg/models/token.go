package models

import "time"

// ConnectionToken binds a browser extension instance to a user. Issued with a
// short TTL; extended to a long TTL on first successful use and on every
// WebSocket reconnection.
type ConnectionToken struct {
	Token     string    `json:"token"`
	UserID    string    `json:"userId"`
	ExpiresAt time.Time `json:"expiresAt"`
}
