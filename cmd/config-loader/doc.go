// Package main (cmd/config-loader) loads a service's configuration from the
// secrets gateway and writes it as a dotenv file.
//
// It is meant to run before a dependent service starts, for example as an
// init container. Values from --fallback-env (a dotenv file) are used for any
// section the gateway cannot provide. The jwt section falls back to a locally
// generated signing key when neither source has one.
//
// Example:
//
//	config-loader --service auth-service --gateway-url http://secrets-gateway:3004 \
//	    --fallback-env /etc/auth/defaults.env --output /run/auth/config.env
package main
