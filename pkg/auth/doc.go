// Package auth is the identity glue: it verifies HMAC-signed bearer
// tokens into the (user, optional pod) principal the core consumes, and
// mints tokens for the CLI. OAuth flows, third-party clients and JWKS
// belong to the external authorization collaborator.
package auth
