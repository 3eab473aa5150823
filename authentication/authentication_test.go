package authentication

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateHeaderToken(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		expected string
		err      error
	}{
		{"match", "secret", "secret", nil},
		{"missing", "", "secret", ErrMissingToken},
		{"mismatch", "other", "secret", ErrInvalidToken},
		{"prefix only", "secre", "secret", ErrInvalidToken},
		{"empty expected", "secret", "", ErrInvalidToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			if tt.value != "" {
				h.Set(DefaultTokenHeader, tt.value)
			}
			err := ValidateHeaderToken(h, DefaultTokenHeader, tt.expected)
			if tt.err == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.err)
			}
		})
	}
}

func TestNewStateIsRandomAndURLSafe(t *testing.T) {
	a, err := NewState()
	require.NoError(t, err)
	b, err := NewState()
	require.NoError(t, err)
	assert.Len(t, a, stateLength)
	assert.NotEqual(t, a, b)
	for _, r := range a {
		assert.True(t, strings.ContainsRune(randletters, r))
	}
}

func TestNewSharedToken(t *testing.T) {
	tok, err := NewSharedToken()
	require.NoError(t, err)
	assert.Len(t, tok, sharedTokenLength)
}

func TestBearerTokenRoundTrip(t *testing.T) {
	token, err := NewBearerToken("test-secret")
	require.NoError(t, err)
	assert.NoError(t, ValidateToken("test-secret", token))
	assert.ErrorIs(t, ValidateToken("other-secret", token), ErrInvalidToken)
	assert.ErrorIs(t, ValidateToken("test-secret", "invalid-token"), ErrInvalidToken)
}

func TestBearerTokenWithExpiration(t *testing.T) {
	token, err := NewBearerToken("test-secret", WithExpiration(time.Now().Add(2*time.Hour)))
	require.NoError(t, err)
	assert.Len(t, strings.Split(token, "."), 3)
	assert.NoError(t, ValidateToken("test-secret", token))

	_, err = NewBearerToken("test-secret", WithExpiration(time.Now().Add(-time.Hour)))
	assert.ErrorContains(t, err, "in the past")

	_, err = NewBearerToken("test-secret", WithExpiration(time.Now().Add(366*24*time.Hour)))
	assert.ErrorContains(t, err, "maximum of 1 year")
}
