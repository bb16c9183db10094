// Package gateway implements the secret gateway operations on top of a
// backing SecretStore: document read and write, service token issuance,
// health reporting and the rotation protocol.
//
// Rotation replaces one field of a document while keeping the value it
// replaced in previous_<field>, so consumers can verify material produced
// before the rotation for one more cycle. Only one previous value is kept.
package gateway
