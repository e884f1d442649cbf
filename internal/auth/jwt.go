package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"faceattend/internal/apperr"
)

// DefaultTTL is the validity window of an issued session token.
const DefaultTTL = 30 * time.Minute

// Claims represents JWT payload.
type Claims struct {
	StudentID string `json:"studentId"`
	jwt.RegisteredClaims
}

// Tokens issues and verifies HS256 session tokens. It holds no state beyond
// the secret, so a single value is shared by all requests.
type Tokens struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

// NewTokens creates a token service signing with key.
func NewTokens(key string, ttl time.Duration) *Tokens {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Tokens{key: []byte(key), ttl: ttl, now: time.Now}
}

// WithClock returns a copy of t that reads the current time from now.
func (t *Tokens) WithClock(now func() time.Time) *Tokens {
	cp := *t
	cp.now = now
	return &cp
}

// Issue issues a signed token bound to studentID.
func (t *Tokens) Issue(studentID string) (string, time.Time, error) {
	issuedAt := t.now()
	exp := issuedAt.Add(t.ttl)
	claims := Claims{
		StudentID: studentID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.key)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// Verify validates a token and returns the embedded student id.
// Accepted iff the signature verifies and the current time is before exp.
func (t *Tokens) Verify(tokenStr string) (string, error) {
	if tokenStr == "" {
		return "", apperr.Auth(apperr.CodeMalformedToken, "Token format is invalid")
	}
	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return t.key, nil
	}, jwt.WithTimeFunc(t.now), jwt.WithExpirationRequired())
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenMalformed):
			return "", apperr.Auth(apperr.CodeMalformedToken, "Token format is invalid")
		case errors.Is(err, jwt.ErrTokenExpired):
			return "", apperr.Auth(apperr.CodeExpired, "Token has expired")
		default:
			return "", apperr.Auth(apperr.CodeInvalid, "Invalid token")
		}
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.StudentID == "" {
		return "", apperr.Auth(apperr.CodeInvalid, "Invalid token")
	}
	return claims.StudentID, nil
}
