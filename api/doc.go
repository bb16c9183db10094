/*
Package api contains the wire types and server configuration of the secrets
gateway HTTP surface.

Subpackages:

  - server: HTTP server lifecycle, health and drain endpoints, metrics and pprof
  - secretshandler: gateway routes and the matching HTTP client

# Response Envelope

Every API route answers with a JSON envelope:

	{"success": true, "data": {...}}
	{"success": true, "message": "..."}
	{"success": false, "error": "..."}

Status codes follow the error taxonomy: 400 for malformed requests, 404 for
missing documents, 409 for rotation conflicts and 500 for backend failures.
Error texts never contain secret values.
*/
package api
