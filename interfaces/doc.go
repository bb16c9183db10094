// Package interfaces defines the core types and contracts of the secrets
// gateway, separating them from the store, gateway and client implementations.
//
// # Store Contract
//
// SecretStore abstracts the backing secret engine: health, whole-document
// read and write (with optional compare-and-write), policy creation, token
// creation and capability lookup. Paths are logical, relative to the store's
// namespace, so the same seed specification works against every store.
//
// # Errors
//
// All implementations report failures by wrapping the sentinel errors of this
// package (ErrNotFound, ErrUnavailable, ErrInvalidArgument, ErrValidationFailed,
// ErrAlreadyExists, ErrConflict), to be tested with errors.Is. Native error
// shapes of the backing engine never leave the store package.
//
// # Policies
//
// A Policy is a named, ordered list of path-pattern rules. The capability set
// of a token is the union of the rules of its bound policies, see
// EffectiveCapabilities.
package interfaces
