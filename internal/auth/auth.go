// Package auth issues and verifies the signed participant tokens that bind
// a client to one session membership.
//
// A token is minted when a participant is created (session creation for the
// host, join for everyone else) and must accompany every subsequent write:
// streaming audio, appending transcripts, ending the session. Tokens are
// HMAC-signed JWTs carrying the session ID, participant ID, and whether the
// holder is the host; they are capability tokens, not user identities, so
// there is no account system behind them.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTTL bounds token validity when no explicit TTL is configured.
// Sessions rarely outlive a day.
const DefaultTTL = 24 * time.Hour

// Errors returned by [Issuer.Verify].
var (
	// ErrInvalidToken covers malformed, forged, and mis-signed tokens.
	ErrInvalidToken = errors.New("auth: invalid token")

	// ErrExpiredToken is returned for well-formed tokens past their expiry.
	ErrExpiredToken = errors.New("auth: token has expired")
)

// Claims is the payload carried by a participant token.
type Claims struct {
	SessionID     string `json:"sid"`
	ParticipantID string `json:"pid"`
	Host          bool   `json:"host"`
	jwt.RegisteredClaims
}

// Issuer mints and verifies participant tokens. Safe for concurrent use.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// Option configures an [Issuer].
type Option func(*Issuer)

// WithTTL overrides [DefaultTTL].
func WithTTL(ttl time.Duration) Option {
	return func(i *Issuer) {
		if ttl > 0 {
			i.ttl = ttl
		}
	}
}

// WithClock overrides the clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(i *Issuer) {
		i.now = now
	}
}

// NewIssuer creates an Issuer signing with secret. secret must be non-empty.
func NewIssuer(secret string, opts ...Option) (*Issuer, error) {
	if secret == "" {
		return nil, errors.New("auth: signing secret must not be empty")
	}
	i := &Issuer{
		secret: []byte(secret),
		ttl:    DefaultTTL,
		now:    time.Now,
	}
	for _, o := range opts {
		o(i)
	}
	return i, nil
}

// Issue mints a signed token for one session membership.
func (i *Issuer) Issue(sessionID, participantID string, host bool) (string, error) {
	now := i.now()
	claims := Claims{
		SessionID:     sessionID,
		ParticipantID: participantID,
		Host:          host,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
			Subject:   participantID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a token, returning its claims.
func (i *Issuer) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return i.secret, nil
		},
		jwt.WithTimeFunc(i.now),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.SessionID == "" || claims.ParticipantID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
