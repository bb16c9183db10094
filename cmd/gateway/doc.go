// Package main (cmd/gateway) runs the secrets gateway.
//
// On start the gateway waits for the backing store to become ready, seeds
// policies and initial secret documents (idempotently; existing documents are
// never overwritten) and then serves the HTTP API. A store that never becomes
// ready makes the process exit non-zero.
//
// The backing store is selected with --store:
//
//	vault://vault:8200/secret/app?tls=false   Vault KV v2, mount "secret", namespace "app"
//	file:///var/lib/secrets-gateway           JSON files on local disk
//	memory://                                 in-process, for development
//
// The built-in seed specification can be replaced with --seed-spec, a YAML
// file validated against the embedded schema.
//
// Example:
//
//	VAULT_TOKEN=root gateway --listen-addr 0.0.0.0:3004 \
//	    --store vault://vault:8200/secret/app?tls=false
package main
