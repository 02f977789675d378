/*
Package cache is the process-local read cache.

It is partitioned into a closed set of pools (pods, streams,
singleRecords, recordLists, recordCounts, permissions), each with its own
TTL, entry cap and serialized-size guard, backed by an expiring LRU. Keys
are hierarchical strings embedding the pod and stream path, which makes
write-path invalidation a prefix sweep.

Entries lost on restart are rebuilt from the store; the cache is never
the source of truth.
*/
package cache
