package auth

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthenticator_IssueAndValidate(t *testing.T) {
	a, err := NewAuthenticator(Config{})
	require.NoError(t, err)

	token, err := a.Issue("uploader", ScopeWrite)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(token, "."), "три части JWT")

	claims, err := a.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "uploader", claims.Subject)
	assert.True(t, claims.HasScope(ScopeWrite))
	assert.False(t, claims.HasScope(ScopeAdmin))
}

func TestAuthenticator_Rejects(t *testing.T) {
	a, err := NewAuthenticator(Config{})
	require.NoError(t, err)
	other, err := NewAuthenticator(Config{})
	require.NoError(t, err)

	foreign, err := other.Issue("x", ScopeAdmin)
	require.NoError(t, err)
	_, err = a.Validate(foreign)
	assert.ErrorIs(t, err, ErrInvalidToken, "чужая подпись")

	_, err = a.Validate("not.a.token")
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired := &Authenticator{secret: a.secret, issuer: a.issuer, ttl: -time.Minute}
	token, err := expired.Issue("late")
	require.NoError(t, err)
	_, err = a.Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken, "истёкший токен")
}

func TestNewAuthenticator_Secret(t *testing.T) {
	secret, err := GenerateSecret()
	require.NoError(t, err)

	a, err := NewAuthenticator(Config{Secret: secret})
	require.NoError(t, err)
	b, err := NewAuthenticator(Config{Secret: secret})
	require.NoError(t, err)
	token, err := a.Issue("svc", ScopeWrite, ScopeAdmin)
	require.NoError(t, err)
	claims, err := b.Validate(token)
	require.NoError(t, err, "общий секрет")
	assert.True(t, claims.HasScope(ScopeAdmin))

	_, err = NewAuthenticator(Config{Secret: base64.StdEncoding.EncodeToString([]byte("short"))})
	assert.Error(t, err)
	_, err = NewAuthenticator(Config{Secret: "%%%"})
	assert.Error(t, err)
}
