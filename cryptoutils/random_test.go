package cryptoutils

import (
	"bytes"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRandomString(t *testing.T) {
	testCases := []struct {
		name    string
		length  int
		charset string
	}{
		{"password", 24, ""},
		{"signing key", 64, AlphanumericCharset},
		{"digits", 10, "0123456789"},
		{"single char", 5, "x"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			s, err := RandomString(tc.length, tc.charset)
			require.NoError(t, err)
			assert.Len(t, s, tc.length)

			charset := tc.charset
			if charset == "" {
				charset = AlphanumericCharset
			}
			for _, r := range s {
				assert.True(t, strings.ContainsRune(charset, r), "unexpected char %q", r)
			}
		})
	}
}

func TestRandomString_Unique(t *testing.T) {
	a, err := RandomAlphanumeric(64)
	require.NoError(t, err)
	b, err := RandomAlphanumeric(64)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestRandomString_InvalidLength(t *testing.T) {
	_, err := RandomString(0, "")
	assert.ErrorIs(t, err, ErrInvalidLength)

	_, err = RandomHex(-1)
	assert.ErrorIs(t, err, ErrInvalidLength)
}

func TestRandomString_RejectsBiasedBytes(t *testing.T) {
	orig := Reader
	defer func() { Reader = orig }()

	// 62 chars: bytes >= 248 are rejected, 0 maps to 'a', 63 maps to 'b'.
	Reader = bytes.NewReader([]byte{255, 250, 0, 63, 248, 1, 1, 1})
	s, err := RandomString(3, AlphanumericCharset)
	require.NoError(t, err)
	assert.Equal(t, "abb", s)
}

func TestRandomHex(t *testing.T) {
	s, err := RandomHex(32)
	require.NoError(t, err)
	assert.Len(t, s, 64)

	_, err = hex.DecodeString(s)
	assert.NoError(t, err)
}
