package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

// TestIssueAndValidate тестирует создание и проверку токена
func TestIssueAndValidate(t *testing.T) {
	iss, err := NewIssuer(testSecret)
	require.NoError(t, err)

	token, err := iss.Issue("ops", true, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(token, "."), "токен из трёх частей")

	claims, err := iss.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.Subject)
	assert.True(t, claims.IsAdmin)
	assert.Equal(t, DefaultIssuer, claims.Issuer)
}

func TestWeakSecretRejected(t *testing.T) {
	_, err := NewIssuer("short")
	assert.ErrorIs(t, err, ErrWeakSecret)
}

func TestBase64Secret(t *testing.T) {
	secret := GenerateSecureSecret()
	iss, err := NewIssuer(secret)
	require.NoError(t, err)
	assert.Len(t, iss.secret, MinSecretLength)
}

// TestValidateInvalidTokens тестирует недействительные токены
func TestValidateInvalidTokens(t *testing.T) {
	iss, err := NewIssuer(testSecret)
	require.NoError(t, err)

	other, err := NewIssuer(strings.Repeat("z", MinSecretLength))
	require.NoError(t, err)
	foreign, err := other.Issue("ops", true, time.Hour)
	require.NoError(t, err)

	for _, token := range []string{
		"",
		"invalid.token.here",
		"not.a.jwt",
		"eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9.invalid.signature",
		foreign,
	} {
		_, err := iss.Validate(token)
		assert.ErrorIs(t, err, ErrInvalidToken, "token %q", token)
	}
}

func TestExpiredToken(t *testing.T) {
	iss, err := NewIssuer(testSecret)
	require.NoError(t, err)

	past := time.Now().Add(-2 * time.Hour)
	iss.now = func() time.Time { return past }
	token, err := iss.Issue("ops", true, time.Minute)
	require.NoError(t, err)

	iss.now = time.Now
	_, err = iss.Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestNoneAlgorithmRejected(t *testing.T) {
	iss, err := NewIssuer(testSecret)
	require.NoError(t, err)

	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{
		IsAdmin: true,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    DefaultIssuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	token, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = iss.Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
