package catalog

import (
	"context"
	"encoding/json"

	"github.com/webpods-org/webpods/pkg/blob"
	"github.com/webpods-org/webpods/pkg/cache"
	"github.com/webpods-org/webpods/pkg/config"
	"github.com/webpods-org/webpods/pkg/errdefs"
	"github.com/webpods-org/webpods/pkg/events"
	"github.com/webpods-org/webpods/pkg/log"
	"github.com/webpods-org/webpods/pkg/storage"
	"github.com/webpods-org/webpods/pkg/types"
)

// Catalog owns the pod/stream/record data model. It layers caching, blob
// hand-off, hash chaining and event publication over the persistent store.
type Catalog struct {
	store  storage.Store
	cache  *cache.Cache
	blobs  *blob.Store
	broker *events.Broker

	maxLimit     int
	defaultLimit int
}

// New creates a Catalog over its collaborators
func New(store storage.Store, c *cache.Cache, blobs *blob.Store, broker *events.Broker, cfg config.ServerConfig) *Catalog {
	return &Catalog{
		store:        store,
		cache:        c,
		blobs:        blobs,
		broker:       broker,
		maxLimit:     cfg.MaxRecordLimit,
		defaultLimit: cfg.DefaultRecordLimit,
	}
}

// Store exposes the underlying store for collaborators that need raw reads
func (c *Catalog) Store() storage.Store {
	return c.store
}

// Cache exposes the cache for collaborators sharing pools
func (c *Catalog) Cache() *cache.Cache {
	return c.cache
}

// Blobs exposes the blob store
func (c *Catalog) Blobs() *blob.Store {
	return c.blobs
}

// ctxErr translates context termination into the core error set. Called at
// I/O boundaries so handlers observe cancellation cooperatively.
func ctxErr(ctx context.Context) error {
	switch ctx.Err() {
	case nil:
		return nil
	case context.DeadlineExceeded:
		return errdefs.New(errdefs.CodeRequestTimeout, "request deadline exceeded")
	default:
		return errdefs.New(errdefs.CodeInternalError, "request cancelled")
	}
}

func (c *Catalog) publish(event *events.Event) {
	if c.broker != nil {
		c.broker.Publish(event)
	}
}

// parseJSONContent decodes a record's JSON content into out, reporting
// whether the content parsed at all.
func parseJSONContent(record *types.Record, out interface{}) bool {
	if record.Content == "" {
		return false
	}
	if err := json.Unmarshal([]byte(record.Content), out); err != nil {
		log.Logger.Debug().
			Str("path", record.Path).
			Err(err).
			Msg("record content is not valid JSON")
		return false
	}
	return true
}
