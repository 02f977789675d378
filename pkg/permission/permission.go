package permission

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/webpods-org/webpods/pkg/cache"
	"github.com/webpods-org/webpods/pkg/catalog"
	"github.com/webpods-org/webpods/pkg/errdefs"
	"github.com/webpods-org/webpods/pkg/metrics"
	"github.com/webpods-org/webpods/pkg/types"
)

// Access is the permission tuple a permission stream reduces to
type Access struct {
	Read  bool
	Write bool
}

// Engine evaluates stream access: the built-in modes plus permission
// tables stored in referenced streams. The pod owner always has full
// access everywhere; the stream creator has full access to their stream
// unless it is a system (.config) stream.
type Engine struct {
	catalog *catalog.Catalog
}

// New creates a permission engine over the catalog
func New(cat *catalog.Catalog) *Engine {
	return &Engine{catalog: cat}
}

// CanRead checks read access to a stream for a user ("" = anonymous)
func (e *Engine) CanRead(ctx context.Context, stream *types.Stream, userID string) error {
	return e.check(ctx, stream, userID, false)
}

// CanWrite checks write access to a stream for a user ("" = anonymous)
func (e *Engine) CanWrite(ctx context.Context, stream *types.Stream, userID string) error {
	return e.check(ctx, stream, userID, true)
}

func (e *Engine) check(ctx context.Context, stream *types.Stream, userID string, write bool) error {
	// Owner override
	owner, err := e.catalog.Owner(ctx, stream.PodName)
	if err == nil && userID != "" && userID == owner {
		return nil
	}

	// Creator override. System streams answer to the current owner only,
	// so an ownership transfer also strips the previous owner's access.
	if userID != "" && userID == stream.UserID && !types.IsSystemPath(stream.Path) {
		return nil
	}

	switch mode := stream.AccessPermission; {
	case mode == types.AccessPublic:
		if !write {
			return nil
		}
		if userID == "" {
			return errdefs.New(errdefs.CodeUnauthorized, "writing requires authentication")
		}
		return nil

	case mode == types.AccessPrivate:
		// Creator already allowed above
		return e.deny(userID)

	case mode == types.AccessOwner:
		return e.deny(userID)

	case strings.HasPrefix(mode, "/"):
		access, err := e.resolve(ctx, stream.PodName, mode, userID)
		if err != nil {
			return err
		}
		if (write && access.Write) || (!write && access.Read) {
			return nil
		}
		return e.deny(userID)

	default:
		// Unknown mode: treat as private
		return e.deny(userID)
	}
}

func (e *Engine) deny(userID string) error {
	if userID == "" {
		return errdefs.New(errdefs.CodeUnauthorized, "authentication required")
	}
	return errdefs.New(errdefs.CodeForbidden, "access denied")
}

// resolve folds the referenced permission stream into the user's effective
// tuple. Records are applied in index order; an entry for the user
// overwrites the running tuple, a deleted entry clears it. Absence denies.
func (e *Engine) resolve(ctx context.Context, pod, permStreamPath, userID string) (Access, error) {
	if userID == "" {
		return Access{}, nil
	}

	key := pod + "|" + permStreamPath + "|" + userID
	if v, ok := e.catalog.Cache().Get(cache.PoolPermissions, key); ok {
		metrics.CacheHitsTotal.WithLabelValues(string(cache.PoolPermissions)).Inc()
		return v.(Access), nil
	}
	metrics.CacheMissesTotal.WithLabelValues(string(cache.PoolPermissions)).Inc()

	stream, err := e.catalog.GetStreamByPath(ctx, pod, permStreamPath)
	if err != nil {
		if errdefs.IsCode(err, errdefs.CodeStreamNotFound) {
			// A dangling reference denies everyone but the overrides
			return Access{}, nil
		}
		return Access{}, err
	}

	records, err := e.catalog.Store().ListAllRecords(stream.ID)
	if err != nil {
		return Access{}, err
	}

	var access Access
	for _, r := range records {
		if r.Purged || r.Content == "" {
			continue
		}
		var entry types.PermissionEntry
		if err := json.Unmarshal([]byte(r.Content), &entry); err != nil {
			continue
		}
		if entry.UserID != userID {
			continue
		}
		if entry.Deleted {
			access = Access{}
			continue
		}
		access = Access{Read: entry.Read, Write: entry.Write}
	}

	e.catalog.Cache().Set(cache.PoolPermissions, key, access)
	return access, nil
}
