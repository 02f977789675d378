// Package health probes the server's dependencies (catalog database,
// blob root) and serves the /health endpoint.
package health
