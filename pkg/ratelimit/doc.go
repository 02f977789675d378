// Package ratelimit enforces per-action limits (read, write, pod_create,
// stream_create) keyed by user or pod. Hourly budgets persist in the
// store so restarts do not reset windows; a token bucket per scope
// smooths bursts. Over-limit requests fail with RATE_LIMIT_EXCEEDED
// before the underlying action runs.
package ratelimit
