package types

import (
	"time"
)

// Pod represents a tenant namespace addressed by subdomain
type Pod struct {
	Name      string            `json:"name"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

// AccessMode values for Stream.AccessPermission. Any other value starting
// with "/" references a permission stream in the same pod.
const (
	AccessPublic  = "public"
	AccessPrivate = "private"
	AccessOwner   = "owner"
)

// Stream represents an append-only log within a pod. Streams nest; Path is
// the denormalized /-joined segment chain starting with "/".
type Stream struct {
	ID               int64             `json:"id"`
	PodName          string            `json:"podName"`
	Name             string            `json:"name"`
	ParentID         *int64            `json:"parentId,omitempty"`
	Path             string            `json:"path"`
	UserID           string            `json:"userId"`
	AccessPermission string            `json:"accessPermission"`
	HasSchema        bool              `json:"hasSchema"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	CreatedAt        time.Time         `json:"createdAt"`
	UpdatedAt        time.Time         `json:"updatedAt"`
}

// BlobRef points at externally stored content
type BlobRef struct {
	Hash string `json:"hash"` // hex digest, no prefix
	Size int64  `json:"size"`
	URL  string `json:"url"`
}

// Record is an immutable entry in a stream, chained to its predecessor by
// hash. Content may be empty when Storage is set.
type Record struct {
	ID           int64             `json:"id"`
	StreamID     int64             `json:"streamId"`
	Index        int64             `json:"index"`
	Name         string            `json:"name"`
	Path         string            `json:"path"`
	Content      string            `json:"content"`
	ContentType  string            `json:"contentType"`
	Size         int64             `json:"size"`
	IsBinary     bool              `json:"isBinary"`
	ContentHash  string            `json:"contentHash"`
	Hash         string            `json:"hash"`
	PreviousHash string            `json:"previousHash,omitempty"`
	UserID       string            `json:"userId"`
	Headers      map[string]string `json:"headers,omitempty"`
	Storage      *BlobRef          `json:"storage,omitempty"`
	Deleted      bool              `json:"deleted"`
	Purged       bool              `json:"purged"`
	CreatedAt    time.Time         `json:"createdAt"`
}

// ListOptions controls record listing
type ListOptions struct {
	Limit          int
	After          *int64 // exclusive lower bound on index; negative -k means last k
	Unique         bool
	Fields         []string
	MaxContentSize int64
}

// RecordList is a page of records
type RecordList struct {
	Records []*Record `json:"records"`
	Total   int64     `json:"total"`
	HasMore bool      `json:"hasMore"`
}

// StreamListOptions controls stream listing
type StreamListOptions struct {
	Path                string
	Recursive           bool
	IncludeRecordCounts bool
	IncludeHashes       bool
}

// StreamInfo is the catalog view of a stream, optionally annotated with
// record counts and chain state.
type StreamInfo struct {
	*Stream
	RecordCount    *int64  `json:"recordCount,omitempty"`
	LastHash       *string `json:"lastHash,omitempty"`
	HashChainValid *bool   `json:"hashChainValid,omitempty"`
}

// IndexSpec addresses records by position: a single index (negative counts
// from the end, -1 is latest) or a half-open range a:b.
type IndexSpec struct {
	IsRange bool
	Start   int64
	End     int64
	HasEnd  bool
}

// WriteResult is the minimal JSON body returned on a successful append
type WriteResult struct {
	Index        int64  `json:"index"`
	Name         string `json:"name"`
	Path         string `json:"path"`
	Hash         string `json:"hash"`
	Size         int64  `json:"size"`
	ContentHash  string `json:"contentHash"`
	PreviousHash string `json:"previousHash,omitempty"`
}

// Tombstone is the JSON body of a soft-delete marker record
type Tombstone struct {
	Deleted      bool   `json:"deleted"`
	OriginalName string `json:"originalName"`
	DeletedAt    string `json:"deletedAt"`
	DeletedBy    string `json:"deletedBy"`
}

// PurgeMarker replaces record content when a record is purged
type PurgeMarker struct {
	Purged bool   `json:"purged"`
	By     string `json:"by"`
	At     string `json:"at"`
}

// PermissionEntry is the parsed content of a permission-stream record
type PermissionEntry struct {
	UserID  string `json:"userId"`
	Read    bool   `json:"read"`
	Write   bool   `json:"write"`
	Deleted bool   `json:"deleted,omitempty"`
}

// DomainChange is one entry in a pod's .config/domains history
type DomainChange struct {
	Domain string `json:"domain"`
	Action string `json:"action"` // "add" or "remove"
}

// OwnerRecord is the content of a .config/owner record
type OwnerRecord struct {
	UserID string `json:"userId"`
}

// SchemaConfig is the content of a <stream>/.config "schema" record
type SchemaConfig struct {
	SchemaType     string      `json:"schemaType"` // "json-schema" or "none"
	Schema         interface{} `json:"schema,omitempty"`
	ValidationMode string      `json:"validationMode,omitempty"` // "strict" (default) or "permissive"
	AppliesTo      string      `json:"appliesTo,omitempty"`      // "all" (default) or "json"
}

// TimestampFormat is the canonical wire and chain-hash timestamp layout:
// UTC ISO-8601 with millisecond precision.
const TimestampFormat = "2006-01-02T15:04:05.000Z"

// FormatTimestamp renders t in the canonical layout
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampFormat)
}
