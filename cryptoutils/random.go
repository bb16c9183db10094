package cryptoutils

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

// AlphanumericCharset is the default charset for generated passwords and signing keys.
const AlphanumericCharset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// ErrInvalidLength is returned for non-positive lengths.
var ErrInvalidLength = errors.New("length must be positive")

// Reader is the entropy source. Tests may replace it.
var Reader io.Reader = rand.Reader

// RandomString returns a string of length characters drawn uniformly from charset.
// An empty charset selects AlphanumericCharset.
func RandomString(length int, charset string) (string, error) {
	if length <= 0 {
		return "", ErrInvalidLength
	}
	if charset == "" {
		charset = AlphanumericCharset
	}
	if len(charset) > 256 {
		return "", fmt.Errorf("charset too large: %d", len(charset))
	}

	// Bytes at or above limit are rejected so every charset index is equally likely.
	limit := 256 - (256 % len(charset))
	out := make([]byte, 0, length)
	buf := make([]byte, length)
	for len(out) < length {
		if _, err := io.ReadFull(Reader, buf); err != nil {
			return "", fmt.Errorf("failed to generate random bytes: %w", err)
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			out = append(out, charset[int(b)%len(charset)])
			if len(out) == length {
				break
			}
		}
	}
	return string(out), nil
}

// RandomAlphanumeric returns a random alphanumeric string of the given length.
func RandomAlphanumeric(length int) (string, error) {
	return RandomString(length, AlphanumericCharset)
}

// RandomHex returns numBytes random bytes, hex encoded.
func RandomHex(numBytes int) (string, error) {
	if numBytes <= 0 {
		return "", ErrInvalidLength
	}
	b := make([]byte, numBytes)
	if _, err := io.ReadFull(Reader, b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}
