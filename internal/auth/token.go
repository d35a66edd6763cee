package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
	ErrNoJWKS       = errors.New("no JWKS URL provided")
)

// Role is the marketplace role carried by the session token.
type Role string

const (
	RoleFreelancer Role = "freelancer"
	RoleClient     Role = "client"
	RoleAdmin      Role = "admin"
)

// StandardClaims represents the claims the marketplace API puts in its tokens.
type StandardClaims struct {
	UserID string `json:"user_id"`
	ID     string `json:"id"`
	Email  string `json:"email"`
	Role   Role   `json:"role"`
	jwt.RegisteredClaims
}

// userID prefers the explicit user id claims over the subject.
func (c *StandardClaims) userID() string {
	switch {
	case c.UserID != "":
		return c.UserID
	case c.ID != "":
		return c.ID
	default:
		return c.Subject
	}
}

// Session is the authenticated identity of the current user.
type Session struct {
	UserID    string
	Role      Role
	Token     string
	ExpiresAt time.Time
}

// Same reports whether s and other describe the same authenticated session.
func (s *Session) Same(other *Session) bool {
	if s == nil || other == nil {
		return s == other
	}
	return s.UserID == other.UserID && s.Token == other.Token
}

// Expired reports whether the token expiry has passed. Tokens without expiry never expire.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// TokenValidator turns a raw token into a Session.
type TokenValidator interface {
	Validate(tokenString string) (*Session, error)
}
