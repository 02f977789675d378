// Package resolver maps URL paths on a pod onto streams and records.
//
// Writes segment deterministically (every segment is stream, optionally
// splitting the final segment off as the record name). Reads without an
// index query probe the catalog record-first: if the all-but-last prefix
// is an existing stream and the last segment is a valid record name, the
// path names a record; otherwise the whole path is tried as a stream
// listing.
package resolver
