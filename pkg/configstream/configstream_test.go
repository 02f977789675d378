package configstream

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/webpods-org/webpods/pkg/blob"
	"github.com/webpods-org/webpods/pkg/cache"
	"github.com/webpods-org/webpods/pkg/catalog"
	"github.com/webpods-org/webpods/pkg/config"
	"github.com/webpods-org/webpods/pkg/errdefs"
	"github.com/webpods-org/webpods/pkg/storage"
	"github.com/webpods-org/webpods/pkg/types"
)

type fixture struct {
	catalog *catalog.Catalog
	manager *Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := config.Default()

	store, err := storage.NewBoltStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewBoltStore() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })

	blobs, err := blob.NewStore(t.TempDir(), "/{stream_path}/{record_name}")
	if err != nil {
		t.Fatalf("blob.NewStore() error = %v", err)
	}

	cat := catalog.New(store, cache.New(cfg.Cache), blobs, nil, cfg.Server)
	if _, err := cat.CreatePod(context.Background(), "alice", "OWNER"); err != nil {
		t.Fatalf("CreatePod() error = %v", err)
	}
	return &fixture{catalog: cat, manager: New(cat)}
}

func (f *fixture) append(t *testing.T, streamPath, name string, content interface{}) *types.Stream {
	t.Helper()
	stream, err := f.catalog.GetOrCreateStream(context.Background(), "alice", streamPath, "OWNER", "")
	if err != nil {
		t.Fatalf("GetOrCreateStream(%s) error = %v", streamPath, err)
	}
	data, _ := json.Marshal(content)
	if _, err := f.catalog.Append(context.Background(), stream, "OWNER", catalog.AppendOptions{
		Name:        name,
		Content:     data,
		ContentType: "application/json",
	}); err != nil {
		t.Fatalf("Append(%s) error = %v", name, err)
	}
	return stream
}

func TestRouting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Unconfigured pods route nothing
	routes, err := f.manager.Routing(ctx, "alice")
	if err != nil || len(routes) != 0 {
		t.Errorf("Routing() = %v, err %v, want empty", routes, err)
	}

	f.append(t, RoutingStreamPath, RoutesRecordName, map[string]string{
		"/":      "site/home",
		"/about": "site/about",
	})

	routes, err = f.manager.Routing(ctx, "alice")
	if err != nil {
		t.Fatalf("Routing() error = %v", err)
	}
	if routes["/"] != "site/home" || routes["/about"] != "site/about" {
		t.Errorf("Routing() = %v", routes)
	}

	// The latest record wins
	f.append(t, RoutingStreamPath, RoutesRecordName, map[string]string{"/": "landing/v2"})
	routes, _ = f.manager.Routing(ctx, "alice")
	if routes["/"] != "landing/v2" || len(routes) != 1 {
		t.Errorf("Routing() after update = %v", routes)
	}
}

func TestDomains_Fold(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.append(t, DomainsStreamPath, DomainsRecordName, types.DomainChange{Domain: "example.com", Action: "add"})
	f.append(t, DomainsStreamPath, DomainsRecordName, types.DomainChange{Domain: "blog.example.com", Action: "add"})
	f.append(t, DomainsStreamPath, DomainsRecordName, types.DomainChange{Domain: "example.com", Action: "remove"})

	domains, err := f.manager.Domains(ctx, "alice")
	if err != nil {
		t.Fatalf("Domains() error = %v", err)
	}
	if len(domains) != 1 || domains[0] != "blog.example.com" {
		t.Errorf("Domains() = %v, want [blog.example.com]", domains)
	}

	pod, err := f.manager.PodForDomain(ctx, "blog.example.com")
	if err != nil || pod != "alice" {
		t.Errorf("PodForDomain() = %v, err %v, want alice", pod, err)
	}
	pod, err = f.manager.PodForDomain(ctx, "example.com")
	if err != nil || pod != "" {
		t.Errorf("PodForDomain(removed) = %v, err %v, want empty", pod, err)
	}

	// Re-adding restores the domain; the host cache was invalidated by the
	// config write
	f.append(t, DomainsStreamPath, DomainsRecordName, types.DomainChange{Domain: "example.com", Action: "add"})
	pod, err = f.manager.PodForDomain(ctx, "example.com")
	if err != nil || pod != "alice" {
		t.Errorf("PodForDomain(re-added) = %v, err %v, want alice", pod, err)
	}
}

func TestSchema_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	stream, err := f.catalog.GetOrCreateStream(ctx, "alice", "/items", "OWNER", "")
	if err != nil {
		t.Fatalf("GetOrCreateStream() error = %v", err)
	}

	// No schema: anything goes
	if err := f.manager.ValidateRecord(ctx, stream, "text/plain", []byte("free-form")); err != nil {
		t.Errorf("ValidateRecord() without schema error = %v", err)
	}

	configStream := f.append(t, "/items/.config", SchemaRecordName, types.SchemaConfig{
		SchemaType: "json-schema",
		Schema: map[string]interface{}{
			"type":     "object",
			"required": []string{"title"},
			"properties": map[string]interface{}{
				"title": map[string]interface{}{"type": "string"},
			},
		},
	})

	if err := f.manager.SyncSchemaFlag(ctx, configStream); err != nil {
		t.Fatalf("SyncSchemaFlag() error = %v", err)
	}
	stream, err = f.catalog.GetStreamByPath(ctx, "alice", "/items")
	if err != nil {
		t.Fatalf("GetStreamByPath() error = %v", err)
	}
	if !stream.HasSchema {
		t.Fatal("HasSchema not set after schema write")
	}

	// Valid document passes
	if err := f.manager.ValidateRecord(ctx, stream, "application/json", []byte(`{"title":"ok"}`)); err != nil {
		t.Errorf("valid document error = %v", err)
	}

	// Missing required property fails
	err = f.manager.ValidateRecord(ctx, stream, "application/json", []byte(`{"body":"no title"}`))
	if !errdefs.IsCode(err, errdefs.CodeValidationError) {
		t.Errorf("invalid document error = %v, want VALIDATION_ERROR", err)
	}

	// Malformed JSON fails
	err = f.manager.ValidateRecord(ctx, stream, "application/json", []byte(`{`))
	if !errdefs.IsCode(err, errdefs.CodeValidationError) {
		t.Errorf("malformed JSON error = %v, want VALIDATION_ERROR", err)
	}

	// Strict mode rejects non-JSON payloads
	err = f.manager.ValidateRecord(ctx, stream, "text/plain", []byte("prose"))
	if !errdefs.IsCode(err, errdefs.CodeValidationError) {
		t.Errorf("non-JSON under schema error = %v, want VALIDATION_ERROR", err)
	}
}

func TestSchema_Disable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	configStream := f.append(t, "/items/.config", SchemaRecordName, types.SchemaConfig{
		SchemaType: "json-schema",
		Schema:     map[string]interface{}{"type": "object"},
	})
	if err := f.manager.SyncSchemaFlag(ctx, configStream); err != nil {
		t.Fatalf("SyncSchemaFlag() error = %v", err)
	}

	// Turning the schema off clears the flag
	f.append(t, "/items/.config", SchemaRecordName, types.SchemaConfig{SchemaType: "none"})
	if err := f.manager.SyncSchemaFlag(ctx, configStream); err != nil {
		t.Fatalf("SyncSchemaFlag() error = %v", err)
	}

	stream, err := f.catalog.GetStreamByPath(ctx, "alice", "/items")
	if err != nil {
		t.Fatalf("GetStreamByPath() error = %v", err)
	}
	if stream.HasSchema {
		t.Error("HasSchema still set after schemaType none")
	}
}

func TestSchema_Permissive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	configStream := f.append(t, "/loose/.config", SchemaRecordName, types.SchemaConfig{
		SchemaType:     "json-schema",
		ValidationMode: "permissive",
		Schema: map[string]interface{}{
			"type":     "object",
			"required": []string{"title"},
		},
	})
	if err := f.manager.SyncSchemaFlag(ctx, configStream); err != nil {
		t.Fatalf("SyncSchemaFlag() error = %v", err)
	}

	stream, err := f.catalog.GetStreamByPath(ctx, "alice", "/loose")
	if err != nil {
		t.Fatalf("GetStreamByPath() error = %v", err)
	}

	// Permissive mode logs instead of rejecting
	if err := f.manager.ValidateRecord(ctx, stream, "application/json", []byte(`{"no":"title"}`)); err != nil {
		t.Errorf("permissive validation error = %v", err)
	}
	if err := f.manager.ValidateRecord(ctx, stream, "text/plain", []byte("prose")); err != nil {
		t.Errorf("permissive non-JSON error = %v", err)
	}
}
