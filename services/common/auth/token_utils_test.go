package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func sign(t *testing.T, method jwt.SigningMethod, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestDecode(t *testing.T) {
	parser := NewTokenParser(testSecret)
	exp := time.Now().Add(time.Hour).Unix()

	t.Run("valid access token", func(t *testing.T) {
		token := sign(t, jwt.SigningMethodHS256, testSecret, jwt.MapClaims{"sub": "user-1", "typ": "access", "exp": exp})
		sub, err := parser.Decode(token)
		require.NoError(t, err)
		assert.Equal(t, "user-1", sub)
	})

	t.Run("refresh token rejected", func(t *testing.T) {
		token := sign(t, jwt.SigningMethodHS256, testSecret, jwt.MapClaims{"sub": "user-1", "typ": "refresh", "exp": exp})
		_, err := parser.Decode(token)
		assert.Error(t, err)
	})

	t.Run("wrong secret", func(t *testing.T) {
		token := sign(t, jwt.SigningMethodHS256, "other", jwt.MapClaims{"sub": "user-1", "typ": "access", "exp": exp})
		_, err := parser.Decode(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("expired", func(t *testing.T) {
		token := sign(t, jwt.SigningMethodHS256, testSecret, jwt.MapClaims{"sub": "user-1", "typ": "access", "exp": time.Now().Add(-time.Minute).Unix()})
		_, err := parser.Decode(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("missing subject", func(t *testing.T) {
		token := sign(t, jwt.SigningMethodHS256, testSecret, jwt.MapClaims{"typ": "access", "exp": exp})
		_, err := parser.Decode(token)
		assert.ErrorIs(t, err, ErrMissingSubject)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := parser.Decode("not-a-jwt")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("no secret configured", func(t *testing.T) {
		_, err := NewTokenParser("  ").Decode("anything")
		assert.ErrorIs(t, err, ErrSecretMissing)
	})
}
