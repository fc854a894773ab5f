// ABOUTME: Credential types and the store interface used by sync adapters
// ABOUTME: Credentials are keyed by type and username

package secrets

import (
	"errors"
	"time"
)

// ErrNotFound is returned when no credentials are stored for a key.
var ErrNotFound = errors.New("credentials not found")

// Type describes what a credential's secret holds.
type Type string

const (
	// TypeBasic is a username and password.
	TypeBasic Type = "basic"
	// TypeReaderBasic is the password used for a Reader API ClientLogin.
	TypeReaderBasic Type = "readerBasic"
	// TypeReaderAPIKey is the auth token returned by ClientLogin.
	TypeReaderAPIKey Type = "readerAPIKey"
	// TypeOAuthAccessToken is a bearer token.
	TypeOAuthAccessToken Type = "oauthAccessToken"
	// TypeOAuthRefreshToken is used to mint new access tokens.
	TypeOAuthRefreshToken Type = "oauthRefreshToken"
)

// Credentials is one stored secret.
type Credentials struct {
	Type     Type      `json:"type"`
	Username string    `json:"username"`
	Secret   string    `json:"secret"`
	Expiry   time.Time `json:"expiry,omitempty"`
}

// Store persists credentials.
type Store interface {
	Set(c Credentials) error
	Get(typ Type, username string) (Credentials, error)
	Delete(typ Type, username string) error
}

func key(typ Type, username string) string {
	return string(typ) + "|" + username
}
