package fixtures

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SigningKey is an HS256 secret used to mint and check fixture tokens.
// It stands in for the platform's real signing infrastructure; nothing
// minted here is valid anywhere outside a test.
type SigningKey []byte

// NewSigningKey returns a fresh random 32-byte key.
func NewSigningKey() (SigningKey, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("fixtures: generate signing key: %w", err)
	}
	return key, nil
}

// StaticSigningKey returns the well-known development key. Use it when the
// mock server and the client under test run in separate processes and have
// to agree on a secret without exchanging one.
func StaticSigningKey() SigningKey {
	return SigningKey("rehearsal-static-test-key-not-a-secret")
}

// Claims is the token payload shape the platform's clients send.
type Claims struct {
	Email  string `json:"email"`
	Role   string `json:"role"`
	Locale string `json:"locale,omitempty"`
	jwt.RegisteredClaims
}

// NewClaims builds claims for a user with the given lifetime.
func NewClaims(u User, ttl time.Duration) Claims {
	now := time.Now()
	return Claims{
		Email:  u.Email,
		Role:   u.Role,
		Locale: u.Locale,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			Issuer:    "rehearsal",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
}

// Mint signs claims into a compact token.
func Mint(key SigningKey, claims Claims) (string, error) {
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	if err != nil {
		return "", fmt.Errorf("fixtures: mint token: %w", err)
	}
	return tok, nil
}

// MintFor is the common path: claims for u with a one-hour lifetime.
func MintFor(key SigningKey, u User) (string, error) {
	return Mint(key, NewClaims(u, time.Hour))
}

// MintExpired mints a token that expired an hour ago, for 401-path tests.
func MintExpired(key SigningKey, u User) (string, error) {
	claims := NewClaims(u, time.Hour)
	claims.IssuedAt = jwt.NewNumericDate(time.Now().Add(-2 * time.Hour))
	claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))
	return Mint(key, claims)
}

// Tampered returns the token with its payload altered so the signature no
// longer matches.
func Tampered(token string) string {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return token + "x"
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil || len(payload) == 0 {
		parts[1] = parts[1] + "x"
		return strings.Join(parts, ".")
	}
	// Flip one byte inside the JSON payload, then re-encode.
	i := len(payload) / 2
	if payload[i] == '"' || payload[i] == '{' || payload[i] == '}' {
		i++
	}
	payload[i] ^= 0x01
	parts[1] = base64.RawURLEncoding.EncodeToString(payload)
	return strings.Join(parts, ".")
}

// Token check errors.
var (
	ErrTokenInvalid = errors.New("fixtures: token invalid")
	ErrTokenExpired = errors.New("fixtures: token expired")
)

// Check parses and verifies a fixture token, returning its claims. This is
// the mock server's gate, not a reimplementation of the platform's
// validator: it exists so tests can exercise the client's 401 handling.
func Check(key SigningKey, token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return []byte(key), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %v", ErrTokenExpired, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !parsed.Valid {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}
