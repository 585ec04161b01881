package identity

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const tokenIssuer = "backoffice"

// Claims are carried by bearer tokens. The registered ID holds the session id.
type Claims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// SessionID returns the session referenced by the token.
func (c *Claims) SessionID() string {
	return c.ID
}

// TokenIssuer signs and verifies HS256 bearer tokens bound to identity sessions.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenIssuer constructs a TokenIssuer.
func NewTokenIssuer(secret string, ttl time.Duration) (*TokenIssuer, error) {
	if len(secret) < 16 {
		return nil, errors.New("identity: token secret must be at least 16 bytes")
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &TokenIssuer{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// Issue signs a token for sess. The token never outlives the session.
func (t *TokenIssuer) Issue(sess Session) (string, time.Time, error) {
	now := t.now().UTC()
	expires := now.Add(t.ttl)
	if !sess.ExpiresAt.IsZero() && sess.ExpiresAt.Before(expires) {
		expires = sess.ExpiresAt.UTC()
	}
	if !expires.After(now) {
		return "", time.Time{}, ErrInvalidToken
	}
	claims := Claims{
		Email: sess.Email,
		Role:  sess.RoleClaim,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        sess.ID,
			Subject:   strconv.FormatInt(sess.UserID, 10),
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("identity: sign token: %w", err)
	}
	return signed, expires, nil
}

// Parse verifies raw and returns its claims.
func (t *TokenIssuer) Parse(raw string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.ID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
