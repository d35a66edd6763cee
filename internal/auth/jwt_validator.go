package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/lestrrat-go/jwx/jwk"
)

// JWTTokenValidator reads session claims from JWTs.
// Without a key set it runs in development mode and trusts the claims unverified;
// the REST verify call is then the only authority on the token.
type JWTTokenValidator struct {
	keySet  jwk.Set
	jwksURL string
	devMode bool
	now     func() time.Time
}

// NewTokenValidator creates a validator for the given JWKS URL.
// An empty URL yields a development-mode validator.
func NewTokenValidator(ctx context.Context, jwksURL string) (*JWTTokenValidator, error) {
	if jwksURL == "" {
		return &JWTTokenValidator{devMode: true, now: time.Now}, nil
	}

	keySet, err := jwk.Fetch(ctx, jwksURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch JWKS from %s: %w", jwksURL, err)
	}

	return &JWTTokenValidator{
		keySet:  keySet,
		jwksURL: jwksURL,
		now:     time.Now,
	}, nil
}

// NewTokenValidatorWithKeySet creates a validator that verifies against a fixed key set.
func NewTokenValidatorWithKeySet(keySet jwk.Set) *JWTTokenValidator {
	return &JWTTokenValidator{keySet: keySet, now: time.Now}
}

// RefreshKeys refetches the JWKS.
func (v *JWTTokenValidator) RefreshKeys(ctx context.Context) error {
	if v.jwksURL == "" {
		return ErrNoJWKS
	}

	keySet, err := jwk.Fetch(ctx, v.jwksURL)
	if err != nil {
		return fmt.Errorf("failed to refresh JWKS from %s: %w", v.jwksURL, err)
	}

	v.keySet = keySet
	return nil
}

// Validate parses the token and returns the session it describes.
func (v *JWTTokenValidator) Validate(tokenString string) (*Session, error) {
	if tokenString == "" {
		return nil, fmt.Errorf("%w: empty token", ErrInvalidToken)
	}

	claims, err := v.claims(tokenString)
	if err != nil {
		return nil, err
	}

	userID := claims.userID()
	if userID == "" {
		return nil, fmt.Errorf("%w: no user_id, id, or subject (sub) found in token claims", ErrInvalidToken)
	}

	session := &Session{
		UserID: userID,
		Role:   claims.Role,
		Token:  tokenString,
	}
	if claims.ExpiresAt != nil {
		session.ExpiresAt = claims.ExpiresAt.Time
	}

	if session.Expired(v.now()) {
		return nil, ErrExpiredToken
	}

	return session, nil
}

func (v *JWTTokenValidator) claims(tokenString string) (*StandardClaims, error) {
	if v.devMode {
		token, _, err := new(jwt.Parser).ParseUnverified(tokenString, &StandardClaims{})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
		}
		claims, ok := token.Claims.(*StandardClaims)
		if !ok {
			return nil, ErrInvalidToken
		}
		return claims, nil
	}

	if v.keySet == nil {
		return nil, ErrNoJWKS
	}

	token, _, err := new(jwt.Parser).ParseUnverified(tokenString, &StandardClaims{})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse token header: %v", ErrInvalidToken, err)
	}

	kid, ok := token.Header["kid"].(string)
	if !ok {
		return nil, fmt.Errorf("%w: token header missing kid", ErrInvalidToken)
	}

	key, found := v.keySet.LookupKeyID(kid)
	if !found && v.jwksURL != "" {
		if err := v.RefreshKeys(context.Background()); err != nil {
			return nil, fmt.Errorf("%w: key with ID %s not found and failed to refresh keys: %v", ErrInvalidToken, kid, err)
		}
		key, found = v.keySet.LookupKeyID(kid)
	}
	if !found {
		return nil, fmt.Errorf("%w: key with ID %s not found", ErrInvalidToken, kid)
	}

	var rawKey interface{}
	if err := key.Raw(&rawKey); err != nil {
		return nil, fmt.Errorf("%w: failed to get raw key: %v", ErrInvalidToken, err)
	}

	// Expiry is checked by Validate against the injectable clock.
	parser := jwt.Parser{SkipClaimsValidation: true}
	validated, err := parser.ParseWithClaims(tokenString, &StandardClaims{}, func(token *jwt.Token) (interface{}, error) {
		return rawKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := validated.Claims.(*StandardClaims)
	if !ok || !validated.Valid {
		return nil, ErrInvalidToken
	}

	return claims, nil
}
