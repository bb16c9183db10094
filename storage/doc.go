// Package storage provides the backing secret stores of the gateway.
//
// Every store implements interfaces.SecretStore over logical paths:
//
//   - VaultBackend: HashiCorp Vault, KV v2 documents, ACL policies and token auth
//   - FileBackend: JSON files on the local file system, for single-node setups
//   - MemoryBackend: in-process store for development and tests
//
// # Store URI Format
//
// Stores are selected with a location URI:
//
//	vault://vault:8200/secret/app?tls=false
//	file:///var/lib/secrets-gateway
//	memory://
//
// For vault:// the first path segment is the KV v2 mount and the remainder is
// the namespace inside it, so the logical path "jwt" resolves to
// secret/data/app/jwt.
//
// # Versioning
//
// Writes replace the whole document and bump its version. Passing a cas
// version turns the write into a compare-and-write that fails with
// interfaces.ErrConflict when another writer got there first.
package storage
