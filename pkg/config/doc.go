// Package config loads the YAML server configuration with built-in
// defaults: listen address and apex domain, storage and blob roots,
// cache pool settings, rate limits, the record-header allow-list and
// token signing material.
package config
