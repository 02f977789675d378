// Package errdefs defines the closed error-code set the core emits,
// the tagged Error carrying it, the HTTP status mapping and the wire
// envelope. Failures are values; the core never panics on the request
// path.
package errdefs
