package resolver

import (
	"context"

	"github.com/webpods-org/webpods/pkg/catalog"
	"github.com/webpods-org/webpods/pkg/errdefs"
	"github.com/webpods-org/webpods/pkg/types"
)

// Mode selects the segmentation rule for a URL path
type Mode int

const (
	// ModeStream treats every segment as stream path: stream creation,
	// stream deletion and index-addressed reads.
	ModeStream Mode = iota

	// ModeRecordWrite splits the last segment off as the record name:
	// appends and record deletion.
	ModeRecordWrite

	// ModeReadAuto resolves reads without an index query record-first: the
	// all-but-last prefix as stream, then the whole path as stream.
	ModeReadAuto
)

// Target is the resolution result. Stream is nil when the path names a
// stream that does not exist yet (write modes create it later).
type Target struct {
	Stream     *types.Stream
	StreamPath string
	RecordName string
}

// Resolver maps (pod, url path) pairs onto streams and records
type Resolver struct {
	catalog *catalog.Catalog
}

// New creates a resolver over the catalog
func New(cat *catalog.Catalog) *Resolver {
	return &Resolver{catalog: cat}
}

// Resolve segments a URL path according to the mode. The empty path is the
// pod root, which the router handles through routing config before ever
// calling here.
func (r *Resolver) Resolve(ctx context.Context, pod, urlPath string, mode Mode) (*Target, error) {
	segments := types.SplitPath(urlPath)
	if len(segments) == 0 {
		return nil, errdefs.New(errdefs.CodeInvalidPath, "empty path")
	}

	switch mode {
	case ModeStream:
		return r.resolveStream(ctx, pod, segments)
	case ModeRecordWrite:
		return r.resolveRecordWrite(ctx, pod, segments)
	default:
		return r.resolveRead(ctx, pod, segments)
	}
}

func validateSegments(segments []string) error {
	for _, seg := range segments {
		if !types.ValidateStreamSegment(seg) {
			return errdefs.Newf(errdefs.CodeInvalidPath, "invalid path segment: %s", seg)
		}
	}
	return nil
}

func (r *Resolver) resolveStream(ctx context.Context, pod string, segments []string) (*Target, error) {
	if err := validateSegments(segments); err != nil {
		return nil, err
	}

	path := types.JoinPath(segments)
	target := &Target{StreamPath: path}
	if stream, err := r.catalog.GetStreamByPath(ctx, pod, path); err == nil {
		target.Stream = stream
	} else if !errdefs.IsCode(err, errdefs.CodeStreamNotFound) {
		return nil, err
	}
	return target, nil
}

func (r *Resolver) resolveRecordWrite(ctx context.Context, pod string, segments []string) (*Target, error) {
	if len(segments) < 2 {
		return nil, errdefs.New(errdefs.CodeInvalidPath, "record writes need a stream path and a record name")
	}

	name := segments[len(segments)-1]
	if !types.ValidateRecordName(name) {
		return nil, errdefs.Newf(errdefs.CodeInvalidName, "invalid record name: %s", name)
	}

	target, err := r.resolveStream(ctx, pod, segments[:len(segments)-1])
	if err != nil {
		return nil, err
	}
	target.RecordName = name
	return target, nil
}

// resolveRead probes two splits. The common case a/b/record is tried
// record-first (stream a/b, record "record"); the whole path is tried as a
// stream when the last segment is not a valid record name or the
// all-but-last prefix is not a stream. No other prefix is probed.
func (r *Resolver) resolveRead(ctx context.Context, pod string, segments []string) (*Target, error) {
	if err := validateSegments(segments); err != nil {
		return nil, err
	}

	last := segments[len(segments)-1]
	if len(segments) > 1 && types.ValidateRecordName(last) {
		streamPath := types.JoinPath(segments[:len(segments)-1])
		stream, err := r.catalog.GetStreamByPath(ctx, pod, streamPath)
		if err == nil {
			return &Target{Stream: stream, StreamPath: streamPath, RecordName: last}, nil
		}
		if !errdefs.IsCode(err, errdefs.CodeStreamNotFound) {
			return nil, err
		}
	}

	path := types.JoinPath(segments)
	stream, err := r.catalog.GetStreamByPath(ctx, pod, path)
	if err == nil {
		return &Target{Stream: stream, StreamPath: path}, nil
	}
	if !errdefs.IsCode(err, errdefs.CodeStreamNotFound) {
		return nil, err
	}
	return nil, errdefs.Newf(errdefs.CodeStreamNotFound, "no stream matches %s", path)
}
