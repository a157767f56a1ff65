package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/flock-dev/flock/internal/roles"
)

var (
	ErrSecretNotSet = errors.New("JWT secret not initialized")
	ErrInvalidToken = errors.New("invalid token")
)

const issuer = "flock"

// JWTClaims represents the JWT token claims
type JWTClaims struct {
	UserID     string     `json:"user_id"`
	Email      string     `json:"email"`
	Role       roles.Role `json:"role"`
	MinistryID string     `json:"ministry_id,omitempty"`
	jwt.RegisteredClaims
}

// Tokens issues and validates session tokens signed with a shared secret.
type Tokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokens creates a token manager. A zero ttl issues tokens that never expire.
func NewTokens(secret string, ttl time.Duration) *Tokens {
	return &Tokens{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// TTL returns how long issued tokens stay valid.
func (t *Tokens) TTL() time.Duration {
	return t.ttl
}

// GenerateToken creates a new JWT token for a user
func (t *Tokens) GenerateToken(s *SessionData) (string, error) {
	if len(t.secret) == 0 {
		return "", ErrSecretNotSet
	}

	now := t.now()
	claims := JWTClaims{
		UserID:     s.UserID,
		Email:      s.Email,
		Role:       s.Role,
		MinistryID: s.MinistryID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   s.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	if t.ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(t.ttl))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(t.secret)
}

// ValidateToken validates a JWT token and returns the claims
func (t *Tokens) ValidateToken(tokenString string) (*JWTClaims, error) {
	if len(t.secret) == 0 {
		return nil, ErrSecretNotSet
	}

	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		// Validate signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return t.secret, nil
	}, jwt.WithIssuer(issuer), jwt.WithTimeFunc(t.now))

	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	if claims, ok := token.Claims.(*JWTClaims); ok && token.Valid {
		if !claims.Role.Valid() {
			return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidToken, claims.Role)
		}
		return claims, nil
	}

	return nil, ErrInvalidToken
}
