// Package cryptoutils generates the random material seeded into and rotated
// within secret documents: alphanumeric passwords and signing keys, and
// hex-encoded symmetric keys. All generators read from crypto/rand.
package cryptoutils
