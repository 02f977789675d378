package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/webpods-org/webpods/pkg/storage"
)

func TestStoreChecker(t *testing.T) {
	store, err := storage.NewBoltStore(t.TempDir())
	assert.NoError(t, err)
	defer store.Close()

	checker := &StoreChecker{Store: store}
	result := checker.Check(httptest.NewRequest(http.MethodGet, "/health", nil).Context())
	assert.True(t, result.Healthy, "store check failed: %s", result.Message)
	assert.False(t, result.CheckedAt.IsZero())
}

func TestBlobChecker(t *testing.T) {
	dir := t.TempDir()

	healthy := (&BlobChecker{Root: dir}).Check(nil)
	assert.True(t, healthy.Healthy)

	missing := (&BlobChecker{Root: dir + "/nope"}).Check(nil)
	assert.False(t, missing.Healthy)
	assert.NotEmpty(t, missing.Message)
}

func TestHandler(t *testing.T) {
	store, err := storage.NewBoltStore(t.TempDir())
	assert.NoError(t, err)
	defer store.Close()

	handler := Handler(
		&StoreChecker{Store: store},
		&BlobChecker{Root: t.TempDir()},
	)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Status string            `json:"status"`
		Checks map[string]Result `json:"checks"`
	}
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Len(t, body.Checks, 2)

	// A failing dependency degrades the endpoint
	broken := Handler(&BlobChecker{Root: "/does/not/exist"})
	w = httptest.NewRecorder()
	broken.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
