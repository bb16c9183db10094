// Package main (cmd/gatewayctl) is the operator CLI of the secrets gateway.
//
// Every command except validate-spec talks to a running gateway selected
// with --gateway-url (env SECRETS_GATEWAY_URL) and prints JSON on stdout.
//
//	gatewayctl health
//	gatewayctl read database
//	gatewayctl write app/feature --data '{"flag":"on"}'
//	gatewayctl rotate database --field password
//	gatewayctl rotate-jwt
//	gatewayctl token --service auth-service --policy auth-service
//	gatewayctl capabilities --token <token> --path jwt
//	gatewayctl validate-spec seed.yaml
package main
