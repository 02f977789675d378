/*
Package catalog owns the pod/stream/record data model.

The catalog layers the domain rules over the persistent store: pod
creation bootstraps the `.config/owner` stream, stream walks auto-create
missing segments, and appends content-address the payload, chain the hash
against the committed tail and hand binary content to the blob store.
Reads go through the pooled TTL cache; every successful write invalidates
the affected pools synchronously, so a read that follows a write always
observes it.

Records are immutable once written. Deletion appends a tombstone record
named <original>.deleted.<epoch_ms>; the original rows stay in place and
the tombstone participates in the hash chain like any other record. Purge
is the single exception to immutability: it overwrites the payload with a
purge marker in place, leaving index, hashes and chain linkage untouched.

The unique view folds a stream down to the newest live record per name:
purged rows never represent a name and a tombstone clears its original,
until a later append resurrects it.
*/
package catalog
