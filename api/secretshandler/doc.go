// Package secretshandler exposes the secret gateway over HTTP and provides
// the matching client.
//
// Routes (JSON, envelope {success, data|error|message}):
//
//	GET  /health
//	GET  /api/secrets/{path...}
//	PUT  /api/secrets/{path...}      body {"data": {...}}
//	GET  /api/database/config
//	GET  /api/services/urls
//	POST /api/tokens/service         body {"serviceName": "...", "policies": [...]}
//	POST /api/tokens/capabilities    body {"token": "...", "path": "..."}
//	POST /api/jwt/rotate
//	POST /api/rotate/{path...}       body {"field": "..."}
//
// Error statuses: 400 invalid argument, 404 not found, 409 version conflict,
// 500 for everything else. Error bodies never carry secret values or
// backing store error details.
package secretshandler
