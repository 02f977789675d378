package resolver

import (
	"context"
	"testing"

	"github.com/webpods-org/webpods/pkg/blob"
	"github.com/webpods-org/webpods/pkg/cache"
	"github.com/webpods-org/webpods/pkg/catalog"
	"github.com/webpods-org/webpods/pkg/config"
	"github.com/webpods-org/webpods/pkg/errdefs"
	"github.com/webpods-org/webpods/pkg/storage"
)

func newTestResolver(t *testing.T) *Resolver {
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
	ctx := context.Background()
	if _, err := cat.CreatePod(ctx, "alice", "U1"); err != nil {
		t.Fatalf("CreatePod() error = %v", err)
	}
	for _, path := range []string{"/site", "/site/assets", "/docs"} {
		if _, err := cat.GetOrCreateStream(ctx, "alice", path, "U1", ""); err != nil {
			t.Fatalf("GetOrCreateStream(%s) error = %v", path, err)
		}
	}
	return New(cat)
}

func TestResolve_ReadAuto(t *testing.T) {
	r := newTestResolver(t)
	ctx := context.Background()

	tests := []struct {
		name       string
		path       string
		wantStream string
		wantRecord string
		wantErr    errdefs.Code
	}{
		{
			name:       "record under existing stream",
			path:       "/site/home.html",
			wantStream: "/site",
			wantRecord: "home.html",
		},
		{
			name:       "nested record",
			path:       "/site/assets/logo.png",
			wantStream: "/site/assets",
			wantRecord: "logo.png",
		},
		{
			name:       "whole path is a stream listing",
			path:       "/docs",
			wantStream: "/docs",
		},
		{
			name:       "record-first beats nested stream name",
			path:       "/site/assets",
			wantStream: "/site",
			wantRecord: "assets",
		},
		{
			name:    "nothing matches",
			path:    "/missing/deeply/nested",
			wantErr: errdefs.CodeStreamNotFound,
		},
		{
			name:    "invalid segment",
			path:    "/site/..%2f/x",
			wantErr: errdefs.CodeInvalidPath,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target, err := r.Resolve(ctx, "alice", tt.path, ModeReadAuto)
			if tt.wantErr != "" {
				if !errdefs.IsCode(err, tt.wantErr) {
					t.Fatalf("Resolve() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}
			if target.StreamPath != tt.wantStream {
				t.Errorf("StreamPath = %v, want %v", target.StreamPath, tt.wantStream)
			}
			if target.RecordName != tt.wantRecord {
				t.Errorf("RecordName = %v, want %v", target.RecordName, tt.wantRecord)
			}
			if target.Stream == nil {
				t.Error("Stream not populated")
			}
		})
	}
}

func TestResolve_ModeStream(t *testing.T) {
	r := newTestResolver(t)
	ctx := context.Background()

	target, err := r.Resolve(ctx, "alice", "/site/assets", ModeStream)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if target.Stream == nil || target.StreamPath != "/site/assets" || target.RecordName != "" {
		t.Errorf("target = %+v", target)
	}

	// Missing streams resolve to a creatable path, not an error
	target, err = r.Resolve(ctx, "alice", "/brand/new", ModeStream)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if target.Stream != nil || target.StreamPath != "/brand/new" {
		t.Errorf("target = %+v", target)
	}
}

func TestResolve_ModeRecordWrite(t *testing.T) {
	r := newTestResolver(t)
	ctx := context.Background()

	target, err := r.Resolve(ctx, "alice", "/site/home.html", ModeRecordWrite)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if target.StreamPath != "/site" || target.RecordName != "home.html" {
		t.Errorf("target = %+v", target)
	}

	// A bare record name has no stream to live in
	_, err = r.Resolve(ctx, "alice", "/orphan", ModeRecordWrite)
	if !errdefs.IsCode(err, errdefs.CodeInvalidPath) {
		t.Errorf("single segment error = %v, want INVALID_PATH", err)
	}

	_, err = r.Resolve(ctx, "alice", "/site/.bad.", ModeRecordWrite)
	if !errdefs.IsCode(err, errdefs.CodeInvalidName) {
		t.Errorf("invalid record name error = %v, want INVALID_NAME", err)
	}
}

func TestResolve_EmptyPath(t *testing.T) {
	r := newTestResolver(t)

	_, err := r.Resolve(context.Background(), "alice", "/", ModeReadAuto)
	if !errdefs.IsCode(err, errdefs.CodeInvalidPath) {
		t.Errorf("empty path error = %v, want INVALID_PATH", err)
	}
}
