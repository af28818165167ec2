package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef-test"

func TestNewIssuer_RejectsShortSecret(t *testing.T) {
	_, err := NewIssuer("short", time.Hour)
	assert.ErrorIs(t, err, ErrWeakSecret)
}

func TestIssuer_IssueAndParse(t *testing.T) {
	iss, err := NewIssuer(testSecret, time.Hour)
	require.NoError(t, err)

	token, claims, err := iss.Issue(MethodPassword, "", "")
	require.NoError(t, err)
	assert.NotEmpty(t, claims.ID)

	parsed, err := iss.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, claims.ID, parsed.ID)
	assert.Equal(t, Subject, parsed.Subject)
	assert.Equal(t, MethodPassword, parsed.Method)
	assert.Empty(t, parsed.Email)
}

func TestIssuer_ParseRejects(t *testing.T) {
	iss, err := NewIssuer(testSecret, time.Hour)
	require.NoError(t, err)
	token, _, err := iss.Issue(MethodSSO, "Jane", "jane@example.com")
	require.NoError(t, err)

	t.Run("expired", func(t *testing.T) {
		iss.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
		defer func() { iss.now = time.Now }()
		_, err := iss.Parse(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("other secret", func(t *testing.T) {
		other, err := NewIssuer("another-secret-of-length", time.Hour)
		require.NoError(t, err)
		_, err = other.Parse(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := iss.Parse("not.a.token")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("wrong subject", func(t *testing.T) {
		forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
			RegisteredClaims: jwt.RegisteredClaims{
				ID:        "x",
				Subject:   "visitor",
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
		}).SignedString([]byte(testSecret))
		require.NoError(t, err)
		_, err = iss.Parse(forged)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("none algorithm", func(t *testing.T) {
		forged, err := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{
			RegisteredClaims: jwt.RegisteredClaims{
				ID:        "x",
				Subject:   Subject,
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
		}).SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, err = iss.Parse(forged)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestPassword(t *testing.T) {
	_, err := NewPassword("")
	assert.Error(t, err)

	p, err := NewPassword("kn2025analytics")
	require.NoError(t, err)
	assert.True(t, p.Verify("kn2025analytics"))
	assert.False(t, p.Verify("kn2025analytic"))
	assert.False(t, p.Verify(""))
}
