package remote

import (
	"context"
	"time"
)

// User is the authenticated account as the backend reports it.
type User struct {
	ID          string    `msgpack:"id" json:"id"`
	Email       string    `msgpack:"email" json:"email"`
	DisplayName string    `msgpack:"display_name" json:"display_name"`
	CreatedAt   time.Time `msgpack:"created_at" json:"created_at"`
}

// Session is an access token bound to a user.
type Session struct {
	AccessToken string    `msgpack:"access_token" json:"access_token"`
	ExpiresAt   time.Time `msgpack:"expires_at" json:"expires_at"`
	User        User      `msgpack:"user" json:"user"`
}

// Expired reports whether the session is past its expiry at now.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// Credentials for password sign in and sign up.
type Credentials struct {
	Email       string
	Password    string
	DisplayName string
}

type AuthEvent string

const (
	SignedIn  AuthEvent = "SIGNED_IN"
	SignedOut AuthEvent = "SIGNED_OUT"
)

// AuthListener receives auth state changes. session is nil on SignedOut.
type AuthListener func(event AuthEvent, session *Session)

// Auth is the authentication surface of the backend.
type Auth interface {
	GetUser(ctx context.Context) (User, error)
	GetSession(ctx context.Context) (*Session, error)
	SignInWithPassword(ctx context.Context, creds Credentials) (Session, error)
	SignUp(ctx context.Context, creds Credentials) (User, error)
	SignOut(ctx context.Context) error
	OnAuthStateChange(fn AuthListener) (unsubscribe func())
}
