package catalog

import (
	"context"
	"strings"
	"time"

	"github.com/webpods-org/webpods/pkg/cache"
	"github.com/webpods-org/webpods/pkg/errdefs"
	"github.com/webpods-org/webpods/pkg/events"
	"github.com/webpods-org/webpods/pkg/hasher"
	"github.com/webpods-org/webpods/pkg/log"
	"github.com/webpods-org/webpods/pkg/metrics"
	"github.com/webpods-org/webpods/pkg/types"
)

// GetOrCreateStream walks the path segments, creating every missing one
// with the given access mode (defaulting to public). Config streams, a root
// .config tree or a nested <stream>/.config, are always created with owner
// access whatever mode is given. Existing segments are returned unchanged.
func (c *Catalog) GetOrCreateStream(ctx context.Context, pod, path, creator, accessMode string) (*types.Stream, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}

	segments := types.SplitPath(path)
	if len(segments) == 0 {
		return nil, errdefs.New(errdefs.CodeInvalidPath, "empty stream path")
	}
	for _, seg := range segments {
		if !types.ValidateStreamSegment(seg) {
			return nil, errdefs.Newf(errdefs.CodeInvalidPath, "invalid path segment: %s", seg)
		}
	}

	var parent *types.Stream
	var stream *types.Stream
	for i := range segments {
		current := types.JoinPath(segments[:i+1])

		existing, err := c.GetStreamByPath(ctx, pod, current)
		if err == nil {
			parent, stream = existing, existing
			continue
		}
		if !errdefs.IsCode(err, errdefs.CodeStreamNotFound) {
			return nil, err
		}

		mode := accessMode
		if mode == "" {
			mode = types.AccessPublic
		}
		// Config streams, root-level or nested <stream>/.config, are
		// owner-only regardless of the requested mode.
		if segments[0] == ".config" || segments[i] == ".config" {
			mode = types.AccessOwner
		}

		now := time.Now()
		created := &types.Stream{
			PodName:          pod,
			Name:             segments[i],
			Path:             current,
			UserID:           creator,
			AccessPermission: mode,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if parent != nil {
			id := parent.ID
			created.ParentID = &id
		}

		created, err = c.store.CreateStream(created)
		if err != nil {
			// A concurrent creator may have won; re-read before failing.
			if errdefs.IsCode(err, errdefs.CodeNameExists) {
				if existing, gerr := c.store.GetStreamByPath(pod, current); gerr == nil {
					parent, stream = existing, existing
					continue
				}
			}
			return nil, err
		}

		c.cache.Invalidate(cache.PoolStreams, pod+":")
		c.publish(&events.Event{Type: events.EventStreamCreated, Pod: pod, Stream: current, UserID: creator})

		parent, stream = created, created
	}

	return stream, nil
}

// GetStreamByPath returns the stream at an exact path
func (c *Catalog) GetStreamByPath(ctx context.Context, pod, path string) (*types.Stream, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}

	key := pod + ":" + path
	if v, ok := c.cache.Get(cache.PoolStreams, key); ok {
		metrics.CacheHitsTotal.WithLabelValues(string(cache.PoolStreams)).Inc()
		return v.(*types.Stream), nil
	}
	metrics.CacheMissesTotal.WithLabelValues(string(cache.PoolStreams)).Inc()

	stream, err := c.store.GetStreamByPath(pod, path)
	if err != nil {
		return nil, err
	}
	c.cache.Set(cache.PoolStreams, key, stream)
	return stream, nil
}

// GetStreamsWithPrefix returns streams whose path equals the prefix or
// nests under it.
func (c *Catalog) GetStreamsWithPrefix(ctx context.Context, pod, prefix string) ([]*types.Stream, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	return c.store.ListStreamsWithPrefix(pod, prefix)
}

// DeleteStream destroys a stream and its descendants, including their
// blobs. System streams cannot be destroyed this way; only the pod owner
// or the stream's creator may destroy.
func (c *Catalog) DeleteStream(ctx context.Context, pod string, stream *types.Stream, caller string) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}

	if types.IsSystemPath(stream.Path) {
		return errdefs.New(errdefs.CodeForbidden, "system streams cannot be deleted")
	}

	owner, err := c.Owner(ctx, pod)
	if err != nil {
		return err
	}
	if caller != owner && caller != stream.UserID {
		return errdefs.New(errdefs.CodeForbidden, "only the pod owner or stream creator may delete a stream")
	}

	if err := c.store.DeleteStream(pod, stream.ID); err != nil {
		return err
	}
	if err := c.blobs.CleanupStream(pod, stream.Path); err != nil {
		streamLog := log.WithStream(pod, stream.Path)
		streamLog.Warn().Err(err).Msg("blob cleanup failed after stream delete")
	}

	c.cache.Invalidate(cache.PoolStreams, pod+":")
	c.cache.Invalidate(cache.PoolSingleRecords, recordCacheScope(pod, stream.Path))
	c.cache.Invalidate(cache.PoolRecordLists, recordCacheScope(pod, stream.Path))
	c.cache.Invalidate(cache.PoolRecordCounts, recordCacheScope(pod, stream.Path))
	c.publish(&events.Event{Type: events.EventStreamDeleted, Pod: pod, Stream: stream.Path, UserID: caller})
	streamLog := log.WithStream(pod, stream.Path)
	streamLog.Info().Msg("stream deleted")

	return nil
}

// ListStreams returns the catalog view of a pod's streams, sorted by path,
// optionally annotated with record counts and chain state.
func (c *Catalog) ListStreams(ctx context.Context, pod string, opts types.StreamListOptions) ([]*types.StreamInfo, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}

	prefix := opts.Path
	if prefix == "" {
		prefix = "/"
	} else if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}

	streams, err := c.store.ListStreamsWithPrefix(pod, prefix)
	if err != nil {
		return nil, err
	}

	if !opts.Recursive {
		// Non-recursive keeps the prefix stream itself plus direct children
		depth := len(types.SplitPath(prefix))
		filtered := streams[:0]
		for _, s := range streams {
			d := len(types.SplitPath(s.Path))
			if s.Path == prefix || d == depth+1 || (prefix == "/" && d == 1) {
				filtered = append(filtered, s)
			}
		}
		streams = filtered
	}

	infos := make([]*types.StreamInfo, 0, len(streams))
	for _, s := range streams {
		info := &types.StreamInfo{Stream: s}
		if opts.IncludeRecordCounts {
			count, err := c.store.CountRecords(s.ID)
			if err != nil {
				return nil, err
			}
			info.RecordCount = &count
		}
		if opts.IncludeHashes {
			lastHash, valid, err := c.VerifyChain(ctx, s.ID)
			if err != nil {
				return nil, err
			}
			info.LastHash = &lastHash
			info.HashChainValid = &valid
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// VerifyChain walks a stream's records checking index contiguity, link
// integrity and each stored hash against a recomputation. Returns the tail
// hash and whether the whole chain holds.
func (c *Catalog) VerifyChain(ctx context.Context, streamID int64) (string, bool, error) {
	if err := ctxErr(ctx); err != nil {
		return "", false, err
	}

	records, err := c.store.ListAllRecords(streamID)
	if err != nil {
		return "", false, err
	}
	if len(records) == 0 {
		return "", true, nil
	}

	valid := true
	prevHash := ""
	for i, r := range records {
		if r.Index != int64(i) || r.PreviousHash != prevHash {
			valid = false
			break
		}
		expected := hasher.ChainHash(prevHash, r.ContentHash, r.UserID, types.FormatTimestamp(r.CreatedAt))
		if r.Hash != expected {
			valid = false
			break
		}
		prevHash = r.Hash
	}
	return records[len(records)-1].Hash, valid, nil
}
