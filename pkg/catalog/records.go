package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/webpods-org/webpods/pkg/cache"
	"github.com/webpods-org/webpods/pkg/errdefs"
	"github.com/webpods-org/webpods/pkg/events"
	"github.com/webpods-org/webpods/pkg/hasher"
	"github.com/webpods-org/webpods/pkg/log"
	"github.com/webpods-org/webpods/pkg/metrics"
	"github.com/webpods-org/webpods/pkg/storage"
	"github.com/webpods-org/webpods/pkg/types"
)

// binaryTypes is the content-type allowlist that routes payloads to the
// blob store even without an explicit file indicator.
var binaryTypePrefixes = []string{
	"image/",
	"audio/",
	"video/",
}

var binaryTypes = map[string]bool{
	"application/octet-stream": true,
	"application/pdf":          true,
	"application/zip":          true,
	"application/gzip":         true,
}

// IsBinaryContentType reports whether a MIME type is stored externally
func IsBinaryContentType(contentType string) bool {
	ct := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	if binaryTypes[ct] {
		return true
	}
	for _, prefix := range binaryTypePrefixes {
		if strings.HasPrefix(ct, prefix) {
			return true
		}
	}
	return false
}

// AppendOptions describes one record append
type AppendOptions struct {
	Name        string
	Content     []byte
	ContentType string
	Headers     map[string]string

	// External forces blob storage regardless of content type
	External bool

	// deleted marks the produced row as a tombstone; internal to soft delete
	deleted bool
}

// recordCacheScope is the key prefix shared by every record-level cache
// entry of a stream.
func recordCacheScope(pod, streamPath string) string {
	return pod + "/" + strings.Trim(streamPath, "/")
}

// Append writes one record to the tail of a stream: content-addresses the
// payload, hands binary content to the blob store, chains the hash inside
// a single serialized transaction and invalidates the read caches.
func (c *Catalog) Append(ctx context.Context, stream *types.Stream, author string, opts AppendOptions) (*types.Record, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	if opts.Name == "" {
		return nil, errdefs.New(errdefs.CodeMissingName, "record name is required")
	}
	if !types.ValidateRecordName(opts.Name) {
		return nil, errdefs.Newf(errdefs.CodeInvalidName, "invalid record name: %s", opts.Name)
	}

	timer := metrics.NewTimer()
	contentType := opts.ContentType
	if contentType == "" {
		contentType = "text/plain"
	}

	contentHash := hasher.ContentHash(opts.Content)
	external := opts.External || IsBinaryContentType(contentType)

	var blobRef *types.BlobRef
	if external {
		ref, err := c.blobs.Put(stream.PodName, stream.Path, opts.Name, opts.Content)
		if err != nil {
			return nil, err
		}
		blobRef = ref
		metrics.BlobBytesWritten.Add(float64(len(opts.Content)))
	}
	if err := ctxErr(ctx); err != nil {
		// The catalog row is the source of truth; drop the orphan alias.
		if blobRef != nil {
			c.blobs.SoftDelete(stream.PodName, stream.Path, opts.Name)
		}
		return nil, err
	}

	content := string(opts.Content)
	if external {
		content = ""
	}

	build := func(prevIndex int64, prevHash string) (*types.Record, error) {
		createdAt := time.Now()
		iso := types.FormatTimestamp(createdAt)
		parsed, _ := time.Parse(types.TimestampFormat, iso)

		return &types.Record{
			StreamID:     stream.ID,
			Index:        prevIndex + 1,
			Name:         opts.Name,
			Path:         stream.Path + "/" + opts.Name,
			Content:      content,
			ContentType:  contentType,
			Size:         int64(len(opts.Content)),
			IsBinary:     external,
			ContentHash:  contentHash,
			Hash:         hasher.ChainHash(prevHash, contentHash, author, iso),
			PreviousHash: prevHash,
			UserID:       author,
			Headers:      opts.Headers,
			Storage:      blobRef,
			Deleted:      opts.deleted,
			CreatedAt:    parsed,
		}, nil
	}

	record, err := c.appendWithRetry(stream.ID, build)
	if err != nil {
		if blobRef != nil {
			c.blobs.SoftDelete(stream.PodName, stream.Path, opts.Name)
		}
		return nil, err
	}

	c.invalidateAfterAppend(stream)

	kind := "inline"
	switch {
	case opts.deleted:
		kind = "tombstone"
	case external:
		kind = "external"
	}
	metrics.RecordsAppendedTotal.WithLabelValues(kind).Inc()
	timer.ObserveDuration(metrics.AppendDuration)

	eventType := events.EventRecordAppended
	if opts.deleted {
		eventType = events.EventRecordDeleted
	}
	c.publish(&events.Event{
		Type:   eventType,
		Pod:    stream.PodName,
		Stream: stream.Path,
		Record: record.Name,
		UserID: author,
	})

	return record, nil
}

// appendWithRetry retries the append transaction on transient database
// failures with bounded exponential backoff, surfacing CONFLICT once the
// budget is spent.
func (c *Catalog) appendWithRetry(streamID int64, build storage.AppendFunc) (*types.Record, error) {
	var record *types.Record

	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3)
	err := backoff.Retry(func() error {
		r, err := c.store.AppendRecord(streamID, build)
		if err != nil {
			if errdefs.IsCode(err, errdefs.CodeDatabaseError) {
				metrics.AppendRetriesTotal.Inc()
				return err // retryable
			}
			return backoff.Permanent(err)
		}
		record = r
		return nil
	}, policy)

	if err != nil {
		if errdefs.IsCode(err, errdefs.CodeDatabaseError) {
			return nil, errdefs.Wrap(errdefs.CodeConflict, "append did not commit", err)
		}
		return nil, err
	}
	return record, nil
}

// invalidateAfterAppend applies the mandatory write-path invalidation
// contract.
func (c *Catalog) invalidateAfterAppend(stream *types.Stream) {
	pod := stream.PodName
	scope := recordCacheScope(pod, stream.Path)

	c.cache.Invalidate(cache.PoolSingleRecords, scope+"/")
	c.cache.Invalidate(cache.PoolRecordLists, scope)
	c.cache.Invalidate(cache.PoolRecordCounts, scope)
	c.cache.Invalidate(cache.PoolStreams, pod+":list")

	// Permission folds over this stream are stale now
	c.cache.Invalidate(cache.PoolPermissions, pod+"|"+stream.Path+"|")

	// Config writes reshape pod-level views
	switch stream.Path {
	case ownerStreamPath, routingStreamPath, domainsStreamPath:
		c.cache.Invalidate(cache.PoolPods, pod+":")
		c.cache.Invalidate(cache.PoolPods, "host:")
	}
}

// GetRecordByName returns the latest record carrying a name, excluding
// tombstoned and purged rows unless includeDeleted is set.
func (c *Catalog) GetRecordByName(ctx context.Context, stream *types.Stream, name string, includeDeleted bool) (*types.Record, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}

	key := recordCacheScope(stream.PodName, stream.Path) + "/" + name
	if !includeDeleted {
		if v, ok := c.cache.Get(cache.PoolSingleRecords, key); ok {
			metrics.CacheHitsTotal.WithLabelValues(string(cache.PoolSingleRecords)).Inc()
			return v.(*types.Record), nil
		}
		metrics.CacheMissesTotal.WithLabelValues(string(cache.PoolSingleRecords)).Inc()
	}

	records, err := c.store.GetRecordsByName(stream.ID, name)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, errdefs.Newf(errdefs.CodeRecordNotFound, "record not found: %s", name)
	}
	latest := records[len(records)-1]

	if includeDeleted {
		return latest, nil
	}
	if latest.Purged {
		return nil, errdefs.Newf(errdefs.CodeRecordNotFound, "record purged: %s", name)
	}
	delIdx, err := c.deletionIndex(stream.ID, name)
	if err != nil {
		return nil, err
	}
	if delIdx > latest.Index {
		return nil, errdefs.Newf(errdefs.CodeRecordNotFound, "record deleted: %s", name)
	}

	c.cache.Set(cache.PoolSingleRecords, key, latest)
	return latest, nil
}

// deletionIndex returns the index of the newest tombstone naming the given
// record, or -1 when none exists.
func (c *Catalog) deletionIndex(streamID int64, name string) (int64, error) {
	tombstones, err := c.store.GetRecordsByNamePrefix(streamID, name+".deleted.")
	if err != nil {
		return -1, err
	}
	idx := int64(-1)
	for _, t := range tombstones {
		if !t.Deleted {
			continue
		}
		var ts types.Tombstone
		if parseJSONContent(t, &ts) && ts.OriginalName == name && t.Index > idx {
			idx = t.Index
		}
	}
	return idx, nil
}

// ListRecords returns a page of a stream's records. Tombstones and purged
// rows are included unless the unique view is requested.
func (c *Catalog) ListRecords(ctx context.Context, stream *types.Stream, opts types.ListOptions) (*types.RecordList, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	if opts.Unique {
		return c.listUniqueRecords(ctx, stream, opts)
	}

	limit := c.clampLimit(opts.Limit)

	total, err := c.countRecords(stream)
	if err != nil {
		return nil, err
	}

	after := int64(-1)
	if opts.After != nil {
		after = *opts.After
		if after < 0 {
			// after = -k addresses the last k records
			after = total + after - 1
			if after < -1 {
				after = -1
			}
		}
	}

	key := fmt.Sprintf("%s:%d:%d:%s:%d", recordCacheScope(stream.PodName, stream.Path), after, limit, strings.Join(opts.Fields, ","), opts.MaxContentSize)
	if v, ok := c.cache.Get(cache.PoolRecordLists, key); ok {
		metrics.CacheHitsTotal.WithLabelValues(string(cache.PoolRecordLists)).Inc()
		return v.(*types.RecordList), nil
	}
	metrics.CacheMissesTotal.WithLabelValues(string(cache.PoolRecordLists)).Inc()

	records, err := c.store.ListRecords(stream.ID, after, limit)
	if err != nil {
		return nil, err
	}

	hasMore := false
	if len(records) > 0 {
		hasMore = records[len(records)-1].Index < total-1
	} else {
		hasMore = after+1 < total
	}

	result := &types.RecordList{
		Records: projectRecords(records, opts),
		Total:   total,
		HasMore: hasMore,
	}
	c.cache.Set(cache.PoolRecordLists, key, result)
	return result, nil
}

// listUniqueRecords folds the stream down to the newest live record per
// name: tombstones clear their original, purged rows never represent a
// name.
func (c *Catalog) listUniqueRecords(ctx context.Context, stream *types.Stream, opts types.ListOptions) (*types.RecordList, error) {
	records, err := c.store.ListAllRecords(stream.ID)
	if err != nil {
		return nil, err
	}

	latest := make(map[string]*types.Record)
	for _, r := range records {
		if r.Purged {
			continue
		}
		if r.Deleted {
			var ts types.Tombstone
			if parseJSONContent(r, &ts) && ts.OriginalName != "" {
				delete(latest, ts.OriginalName)
			}
			continue
		}
		if r.Name != "" {
			latest[r.Name] = r
		}
	}

	unique := make([]*types.Record, 0, len(latest))
	for _, r := range latest {
		unique = append(unique, r)
	}
	sort.Slice(unique, func(i, j int) bool { return unique[i].Index < unique[j].Index })

	total := int64(len(unique))
	if opts.After != nil {
		after := *opts.After
		if after >= 0 {
			// Paging bounds the record index values, not positions
			filtered := unique[:0]
			for _, r := range unique {
				if r.Index > after {
					filtered = append(filtered, r)
				}
			}
			unique = filtered
		} else {
			// -k keeps the last k unique records
			k := -after
			if k < int64(len(unique)) {
				unique = unique[len(unique)-int(k):]
			}
		}
	}

	limit := c.clampLimit(opts.Limit)
	hasMore := false
	if limit > 0 && len(unique) > limit {
		unique = unique[:limit]
		hasMore = true
	}

	return &types.RecordList{
		Records: projectRecords(unique, opts),
		Total:   total,
		HasMore: hasMore,
	}, nil
}

// GetRecordsByIndex resolves an index spec (single position or half-open
// range, negatives counting from the end) into records.
func (c *Catalog) GetRecordsByIndex(ctx context.Context, stream *types.Stream, spec types.IndexSpec) ([]*types.Record, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}

	total, err := c.countRecords(stream)
	if err != nil {
		return nil, err
	}

	resolve := func(i int64) int64 {
		if i < 0 {
			return total + i
		}
		return i
	}

	if !spec.IsRange {
		idx := resolve(spec.Start)
		if idx < 0 || idx >= total {
			return nil, errdefs.Newf(errdefs.CodeRecordNotFound, "index out of range: %d", spec.Start)
		}
		record, err := c.store.GetRecordByIndex(stream.ID, idx)
		if err != nil {
			return nil, err
		}
		return []*types.Record{record}, nil
	}

	start := resolve(spec.Start)
	end := total
	if spec.HasEnd {
		end = resolve(spec.End)
	}
	if start < 0 {
		start = 0
	}
	if end > total {
		end = total
	}
	if start >= end {
		return []*types.Record{}, nil
	}
	if end-start > int64(c.maxLimit) {
		end = start + int64(c.maxLimit)
	}

	return c.store.ListRecords(stream.ID, start-1, int(end-start))
}

// SoftDeleteRecord appends a tombstone for a record name; prior rows are
// never touched.
func (c *Catalog) SoftDeleteRecord(ctx context.Context, stream *types.Stream, name, userID string) error {
	// The record must currently be visible
	if _, err := c.GetRecordByName(ctx, stream, name, false); err != nil {
		return err
	}

	now := time.Now()
	content, _ := json.Marshal(types.Tombstone{
		Deleted:      true,
		OriginalName: name,
		DeletedAt:    types.FormatTimestamp(now),
		DeletedBy:    userID,
	})

	_, err := c.Append(ctx, stream, userID, AppendOptions{
		Name:        fmt.Sprintf("%s.deleted.%d", name, now.UnixMilli()),
		Content:     content,
		ContentType: "application/json",
		deleted:     true,
	})
	if err != nil {
		return err
	}

	// Drop the blob alias so the content stops being served
	if record, err := c.GetRecordByName(ctx, stream, name, true); err == nil && record.Storage != nil {
		if err := c.blobs.SoftDelete(stream.PodName, stream.Path, name); err != nil {
			streamLogger := log.WithStream(stream.PodName, stream.Path)
			streamLogger.Warn().Err(err).Msg("blob alias removal failed")
		}
	}
	return nil
}

// PurgeRecord wipes a record's payload in place. Position, hashes and
// chain linkage stay intact; external content is erased from the blob
// store.
func (c *Catalog) PurgeRecord(ctx context.Context, stream *types.Stream, name, userID string) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}

	record, err := c.GetRecordByName(ctx, stream, name, true)
	if err != nil {
		return err
	}
	if record.Purged {
		return nil
	}

	marker, _ := json.Marshal(types.PurgeMarker{
		Purged: true,
		By:     userID,
		At:     types.FormatTimestamp(time.Now()),
	})

	storageRef := record.Storage
	record.Content = string(marker)
	record.Purged = true
	record.Storage = nil

	if err := c.store.UpdateRecord(record); err != nil {
		return err
	}

	if storageRef != nil {
		if err := c.blobs.SoftDelete(stream.PodName, stream.Path, name); err != nil {
			streamLogger := log.WithStream(stream.PodName, stream.Path)
			streamLogger.Warn().Err(err).Msg("blob alias removal failed")
		}
		if err := c.blobs.Purge(stream.PodName, stream.Path, storageRef.Hash); err != nil {
			streamLogger := log.WithStream(stream.PodName, stream.Path)
			streamLogger.Warn().Err(err).Msg("blob purge failed")
		}
	}

	scope := recordCacheScope(stream.PodName, stream.Path)
	c.cache.Invalidate(cache.PoolSingleRecords, scope+"/")
	c.cache.Invalidate(cache.PoolRecordLists, scope)

	metrics.RecordsPurgedTotal.Inc()
	c.publish(&events.Event{
		Type:   events.EventRecordPurged,
		Pod:    stream.PodName,
		Stream: stream.Path,
		Record: name,
		UserID: userID,
	})
	return nil
}

// countRecords returns a stream's record count through the counts pool
func (c *Catalog) countRecords(stream *types.Stream) (int64, error) {
	key := recordCacheScope(stream.PodName, stream.Path)
	if v, ok := c.cache.Get(cache.PoolRecordCounts, key); ok {
		metrics.CacheHitsTotal.WithLabelValues(string(cache.PoolRecordCounts)).Inc()
		return v.(int64), nil
	}
	metrics.CacheMissesTotal.WithLabelValues(string(cache.PoolRecordCounts)).Inc()

	total, err := c.store.CountRecords(stream.ID)
	if err != nil {
		return 0, err
	}
	c.cache.Set(cache.PoolRecordCounts, key, total)
	return total, nil
}

func (c *Catalog) clampLimit(limit int) int {
	if limit <= 0 {
		return c.defaultLimit
	}
	if limit > c.maxLimit {
		return c.maxLimit
	}
	return limit
}

// recordFields is the projectable attribute set; unknown names are
// silently dropped.
var recordFields = map[string]bool{
	"index": true, "name": true, "path": true, "content": true,
	"contentType": true, "size": true, "contentHash": true, "hash": true,
	"previousHash": true, "userId": true, "headers": true, "deleted": true,
	"purged": true, "createdAt": true,
}

// projectRecords applies field projection and content truncation. JSON
// content is never truncated. Projection blanks the unselected string
// attributes (name, path, content, contentType, the three hashes, userId)
// and headers; index, size, the deleted and purged flags, createdAt and the
// storage reference are always returned.
func projectRecords(records []*types.Record, opts types.ListOptions) []*types.Record {
	if len(opts.Fields) == 0 && opts.MaxContentSize <= 0 {
		if records == nil {
			return []*types.Record{}
		}
		return records
	}

	fields := make(map[string]bool)
	for _, f := range opts.Fields {
		if recordFields[f] {
			fields[f] = true
		}
	}

	out := make([]*types.Record, 0, len(records))
	for _, r := range records {
		p := *r

		if opts.MaxContentSize > 0 && int64(len(p.Content)) > opts.MaxContentSize &&
			!strings.HasPrefix(strings.ToLower(p.ContentType), "application/json") {
			p.Content = p.Content[:opts.MaxContentSize]
		}

		if len(fields) > 0 {
			keep := func(name string) bool { return fields[name] }
			if !keep("content") {
				p.Content = ""
			}
			if !keep("headers") {
				p.Headers = nil
			}
			if !keep("contentType") {
				p.ContentType = ""
			}
			if !keep("hash") {
				p.Hash = ""
			}
			if !keep("previousHash") {
				p.PreviousHash = ""
			}
			if !keep("contentHash") {
				p.ContentHash = ""
			}
			if !keep("userId") {
				p.UserID = ""
			}
			if !keep("path") {
				p.Path = ""
			}
			if !keep("name") {
				p.Name = ""
			}
		}
		out = append(out, &p)
	}
	return out
}
