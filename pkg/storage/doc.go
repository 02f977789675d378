/*
Package storage provides BoltDB-backed persistence for the WebPods catalog.

The storage package implements the Store interface using BoltDB as the
underlying database, holding pods, streams, records, the record-name index
and rate-limit counters. All rows are serialized as JSON and stored in
separate buckets.

# Bucket layout

	pods          pod name                      -> Pod JSON
	streams       stream ID (8-byte BE)         -> Stream JSON
	stream_paths  pod NUL path                  -> stream ID
	records       stream ID . index (8-byte BE) -> Record JSON
	record_names  stream ID . name NUL index    -> (empty)
	counters      scope NUL action NUL window   -> uint64

The stream_paths bucket doubles as the uniqueness constraint on
(pod, parent, name): a stream's path is derived from its parent chain, so
an existing path key means an existing sibling. Record keys sort by
(stream, index), which makes tail lookup, contiguous scans and prefix
paging cursor operations rather than queries.

# Transactions

Reads run in View transactions and observe a consistent snapshot. Writes
run in Update transactions, which BoltDB serializes; AppendRecord exploits
this by reading the stream tail and inserting the next record in one
transaction, so concurrent appenders can never both see the same tail.
That property is what keeps per-stream hash chains linear without any
application-level locking.

# Errors

Not-found and conflict conditions surface as errdefs codes
(POD_NOT_FOUND, STREAM_NOT_FOUND, RECORD_NOT_FOUND, POD_EXISTS,
NAME_EXISTS); unexpected database failures wrap as DATABASE_ERROR.
*/
package storage
