// ABOUTME: Tests for identity resolution and JWT verification
// ABOUTME: Covers bearer/query tokens, anonymous fallback, and OAuth recency

package identity

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTProvider_RoundTrip(t *testing.T) {
	p := NewJWTProvider([]byte("test-secret-with-enough-entropy"))

	token, err := p.Generate("merchant-42", time.Hour)
	require.NoError(t, err)

	userID, err := p.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "merchant-42", userID)
}

func TestJWTProvider_ExpiredToken(t *testing.T) {
	p := NewJWTProvider([]byte("test-secret-with-enough-entropy"))

	token, err := p.Generate("merchant-42", -time.Minute)
	require.NoError(t, err)

	_, err = p.Verify(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestJWTProvider_WrongSecret(t *testing.T) {
	p := NewJWTProvider([]byte("secret-a-secret-a-secret-a-secret"))
	other := NewJWTProvider([]byte("secret-b-secret-b-secret-b-secret"))

	token, err := p.Generate("merchant-42", time.Hour)
	require.NoError(t, err)

	_, err = other.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWTProvider_Resolve(t *testing.T) {
	p := NewJWTProvider([]byte("test-secret-with-enough-entropy"))
	token, err := p.Generate("merchant-42", time.Hour)
	require.NoError(t, err)

	t.Run("bearer header", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/ws", nil)
		r.Header.Set("Authorization", "Bearer "+token)

		id, err := p.Resolve(r)
		require.NoError(t, err)
		require.NotNil(t, id)
		assert.Equal(t, "merchant-42", id.UserID)
		assert.True(t, id.Verified)
	})

	t.Run("query parameter", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/ws?token="+token, nil)

		id, err := p.Resolve(r)
		require.NoError(t, err)
		require.NotNil(t, id)
		assert.Equal(t, "merchant-42", id.UserID)
	})

	t.Run("no token is anonymous, not an error", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/ws", nil)

		id, err := p.Resolve(r)
		require.NoError(t, err)
		assert.Nil(t, id)
	})

	t.Run("garbage token is an error", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/ws", nil)
		r.Header.Set("Authorization", "Bearer not.a.jwt")

		_, err := p.Resolve(r)
		assert.Error(t, err)
	})
}

func TestOAuthMetadata_CompletedWithin(t *testing.T) {
	assert.False(t, (*OAuthMetadata)(nil).CompletedWithin(time.Minute))

	recent := &OAuthMetadata{Provider: "shopify", CompletedAt: time.Now().Add(-time.Minute)}
	assert.True(t, recent.CompletedWithin(5*time.Minute))

	stale := &OAuthMetadata{Provider: "shopify", CompletedAt: time.Now().Add(-time.Hour)}
	assert.False(t, stale.CompletedWithin(5*time.Minute))
}
