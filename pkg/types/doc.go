// Package types defines the shared data model: pods, streams, records,
// blob references, list options and the lexical rules for pod, stream and
// record names.
package types
