package fixtures

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMintAndCheck(t *testing.T) {
	key := StaticSigningKey()
	u := UserN(3)

	tok, err := MintFor(key, u)
	require.NoError(t, err)

	claims, err := Check(key, tok)
	require.NoError(t, err)
	require.Equal(t, u.ID, claims.Subject)
	require.Equal(t, u.Email, claims.Email)
	require.Equal(t, u.Role, claims.Role)
	require.Equal(t, u.Locale, claims.Locale)
}

func TestCheckExpired(t *testing.T) {
	key := StaticSigningKey()
	tok, err := MintExpired(key, DefaultUser())
	require.NoError(t, err)

	_, err = Check(key, tok)
	require.ErrorIs(t, err, ErrTokenExpired)
}

func TestCheckTampered(t *testing.T) {
	key := StaticSigningKey()
	tok, err := MintFor(key, DefaultUser())
	require.NoError(t, err)

	bad := Tampered(tok)
	require.NotEqual(t, tok, bad)

	_, err = Check(key, bad)
	require.ErrorIs(t, err, ErrTokenInvalid)
	require.NotErrorIs(t, err, ErrTokenExpired)
}

func TestCheckWrongKey(t *testing.T) {
	tok, err := MintFor(StaticSigningKey(), DefaultUser())
	require.NoError(t, err)

	other, err := NewSigningKey()
	require.NoError(t, err)

	_, err = Check(other, tok)
	require.ErrorIs(t, err, ErrTokenInvalid)
}

func TestCheckGarbage(t *testing.T) {
	_, err := Check(StaticSigningKey(), "not.a.token")
	if !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("Check(garbage) = %v, want ErrTokenInvalid", err)
	}
}

func TestMintCustomTTL(t *testing.T) {
	key := StaticSigningKey()
	tok, err := Mint(key, NewClaims(DefaultUser(), 2*time.Minute))
	require.NoError(t, err)

	claims, err := Check(key, tok)
	require.NoError(t, err)
	ttl := time.Until(claims.ExpiresAt.Time)
	require.Greater(t, ttl, time.Minute)
	require.LessOrEqual(t, ttl, 2*time.Minute)
}
