package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/webpods-org/webpods/pkg/auth"
	"github.com/webpods-org/webpods/pkg/blob"
	"github.com/webpods-org/webpods/pkg/cache"
	"github.com/webpods-org/webpods/pkg/catalog"
	"github.com/webpods-org/webpods/pkg/config"
	"github.com/webpods-org/webpods/pkg/events"
	"github.com/webpods-org/webpods/pkg/ratelimit"
	"github.com/webpods-org/webpods/pkg/storage"
	"github.com/webpods-org/webpods/pkg/types"
)

type harness struct {
	server  *Server
	handler http.Handler
	auth    *auth.Manager
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	cfg := config.Default()
	cfg.Server.ApexDomain = "example.com"
	cfg.Server.RootPod = "root"
	cfg.RateLimit.Enabled = false
	cfg.Auth.TokenKey = "test-key-test-key-test-key-12345"
	cfg.Auth.TokenTTL = config.Duration(time.Hour)

	store, err := storage.NewBoltStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewBoltStore() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })

	blobs, err := blob.NewStore(t.TempDir(), "https://cdn.example.com/{pod}/{stream_path}/{record_name}")
	if err != nil {
		t.Fatalf("blob.NewStore() error = %v", err)
	}

	authMgr, err := auth.NewManager(cfg.Auth)
	if err != nil {
		t.Fatalf("auth.NewManager() error = %v", err)
	}

	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	cat := catalog.New(store, cache.New(cfg.Cache), blobs, broker, cfg.Server)
	limiter := ratelimit.New(cfg.RateLimit, store)
	srv := New(cfg, cat, authMgr, limiter, broker)

	return &harness{server: srv, handler: srv.Handler(), auth: authMgr}
}

func (h *harness) token(t *testing.T, userID, pod string) string {
	t.Helper()
	token, err := h.auth.Issue(userID, pod)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	return token
}

// request performs one in-process request against the full handler chain
func (h *harness) request(t *testing.T, method, host, target, token string, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *strings.Reader
	if body != "" {
		reader = strings.NewReader(body)
	} else {
		reader = strings.NewReader("")
	}

	req := httptest.NewRequest(method, target, reader)
	req.Host = host
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	h.handler.ServeHTTP(w, req)
	return w
}

func (h *harness) createPod(t *testing.T, name, owner string) string {
	t.Helper()
	token := h.token(t, owner, "")
	w := h.request(t, http.MethodPost, "example.com", "/api/pods", token,
		`{"name":"`+name+`"}`, map[string]string{"Content-Type": "application/json"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create pod = %d: %s", w.Code, w.Body.String())
	}
	return token
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var envelope struct {
		Err struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("response is not an error envelope: %s", w.Body.String())
	}
	return envelope.Err.Code
}

func TestPodLifecycle(t *testing.T) {
	h := newHarness(t)
	token := h.createPod(t, "alice", "U1")

	// Listing shows the new pod
	w := h.request(t, http.MethodGet, "example.com", "/api/pods", token, "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list pods = %d", w.Code)
	}
	var body struct {
		Pods []*types.Pod `json:"pods"`
	}
	json.Unmarshal(w.Body.Bytes(), &body)
	if len(body.Pods) != 1 || body.Pods[0].Name != "alice" {
		t.Errorf("pods = %+v", body.Pods)
	}

	// Duplicate conflicts
	w = h.request(t, http.MethodPost, "example.com", "/api/pods", token,
		`{"name":"alice"}`, nil)
	if w.Code != http.StatusConflict || errorCode(t, w) != "POD_EXISTS" {
		t.Errorf("duplicate = %d %s", w.Code, w.Body.String())
	}

	// Unauthenticated creation is rejected
	w = h.request(t, http.MethodPost, "example.com", "/api/pods", "", `{"name":"x"}`, nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("anonymous create = %d", w.Code)
	}

	// Only the owner deletes
	w = h.request(t, http.MethodDelete, "example.com", "/api/pods/alice", h.token(t, "U2", ""), "", nil)
	if w.Code != http.StatusForbidden {
		t.Errorf("stranger delete = %d", w.Code)
	}
	w = h.request(t, http.MethodDelete, "example.com", "/api/pods/alice", token, "", nil)
	if w.Code != http.StatusNoContent {
		t.Errorf("owner delete = %d: %s", w.Code, w.Body.String())
	}
}

func TestWriteAndReadRecord(t *testing.T) {
	h := newHarness(t)
	token := h.createPod(t, "alice", "U1")

	w := h.request(t, http.MethodPost, "alice.example.com", "/blog/hello", token,
		"hi", map[string]string{"Content-Type": "text/plain"})
	if w.Code != http.StatusCreated {
		t.Fatalf("write = %d: %s", w.Code, w.Body.String())
	}

	var result types.WriteResult
	json.Unmarshal(w.Body.Bytes(), &result)
	if result.Index != 0 || result.Name != "hello" || result.Path != "/blog/hello" {
		t.Errorf("write result = %+v", result)
	}
	if result.ContentHash != "sha256:8f434346648f6b96df89dda901c5176b10a6d83961dd3c1ac88b59b2dc327aa4" {
		t.Errorf("contentHash = %v", result.ContentHash)
	}
	if result.Hash == "" || result.PreviousHash != "" {
		t.Errorf("chain fields = %+v", result)
	}

	// Read it back with chain metadata in headers
	w = h.request(t, http.MethodGet, "alice.example.com", "/blog/hello", "", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("read = %d: %s", w.Code, w.Body.String())
	}
	if w.Body.String() != "hi" {
		t.Errorf("body = %q", w.Body.String())
	}
	if w.Header().Get("X-Index") != "0" {
		t.Errorf("X-Index = %v", w.Header().Get("X-Index"))
	}
	if w.Header().Get("X-Hash") != result.Hash {
		t.Errorf("X-Hash = %v", w.Header().Get("X-Hash"))
	}
	if w.Header().Get("X-Author") != "U1" {
		t.Errorf("X-Author = %v", w.Header().Get("X-Author"))
	}
	if w.Header().Get("X-Content-Hash") == "" || w.Header().Get("X-Timestamp") == "" {
		t.Error("chain metadata headers missing")
	}

	// Second write chains onto the first
	w = h.request(t, http.MethodPost, "alice.example.com", "/blog/hello", token, "hi again", nil)
	var second types.WriteResult
	json.Unmarshal(w.Body.Bytes(), &second)
	if second.Index != 1 || second.PreviousHash != result.Hash {
		t.Errorf("second write = %+v", second)
	}
}

func TestAnonymousWriteRejected(t *testing.T) {
	h := newHarness(t)
	h.createPod(t, "alice", "U1")

	w := h.request(t, http.MethodPost, "alice.example.com", "/blog/hello", "", "hi", nil)
	if w.Code != http.StatusUnauthorized || errorCode(t, w) != "UNAUTHORIZED" {
		t.Errorf("anonymous write = %d %s", w.Code, w.Body.String())
	}
}

func TestListRecords(t *testing.T) {
	h := newHarness(t)
	token := h.createPod(t, "alice", "U1")
	for i := 0; i < 10; i++ {
		h.request(t, http.MethodPost, "alice.example.com", fmt.Sprintf("/blog/r%d", i), token, "x", nil)
	}

	w := h.request(t, http.MethodGet, "alice.example.com", "/blog?limit=4&after=3", "", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list = %d: %s", w.Code, w.Body.String())
	}
	var list types.RecordList
	json.Unmarshal(w.Body.Bytes(), &list)
	if list.Total != 10 || !list.HasMore || len(list.Records) != 4 {
		t.Errorf("list = total %d hasMore %v len %d", list.Total, list.HasMore, len(list.Records))
	}
	if list.Records[0].Index != 4 {
		t.Errorf("first index = %d, want 4", list.Records[0].Index)
	}

	// Negative after returns the tail
	w = h.request(t, http.MethodGet, "alice.example.com", "/blog?after=-3", "", "", nil)
	json.Unmarshal(w.Body.Bytes(), &list)
	if len(list.Records) != 3 || list.Records[0].Index != 7 || list.HasMore {
		t.Errorf("negative after = %+v", list)
	}
}

func TestIndexQueries(t *testing.T) {
	h := newHarness(t)
	token := h.createPod(t, "alice", "U1")
	for i := 0; i < 5; i++ {
		h.request(t, http.MethodPost, "alice.example.com", fmt.Sprintf("/blog/r%d", i), token,
			fmt.Sprintf("content-%d", i), nil)
	}

	// Single index serves the record body
	w := h.request(t, http.MethodGet, "alice.example.com", "/blog?i=2", "", "", nil)
	if w.Code != http.StatusOK || w.Body.String() != "content-2" {
		t.Errorf("i=2 = %d %q", w.Code, w.Body.String())
	}

	// Negative index counts from the end
	w = h.request(t, http.MethodGet, "alice.example.com", "/blog?i=-1", "", "", nil)
	if w.Body.String() != "content-4" {
		t.Errorf("i=-1 = %q", w.Body.String())
	}

	// Ranges return JSON
	w = h.request(t, http.MethodGet, "alice.example.com", "/blog?i=1:3", "", "", nil)
	var body struct {
		Records []*types.Record `json:"records"`
	}
	json.Unmarshal(w.Body.Bytes(), &body)
	if len(body.Records) != 2 || body.Records[0].Index != 1 {
		t.Errorf("i=1:3 = %+v", body.Records)
	}

	// Paging flags are incompatible with i
	w = h.request(t, http.MethodGet, "alice.example.com", "/blog?i=1&limit=5", "", "", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("i+limit = %d", w.Code)
	}
}

func TestDeleteAndUnique(t *testing.T) {
	h := newHarness(t)
	token := h.createPod(t, "alice", "U1")

	h.request(t, http.MethodPost, "alice.example.com", "/blog/x", token, "v1", nil)
	h.request(t, http.MethodPost, "alice.example.com", "/blog/x", token, "v2", nil)
	h.request(t, http.MethodPost, "alice.example.com", "/blog/y", token, "keep", nil)

	w := h.request(t, http.MethodDelete, "alice.example.com", "/blog/x", token, "", nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete = %d: %s", w.Code, w.Body.String())
	}

	// The named read is gone
	w = h.request(t, http.MethodGet, "alice.example.com", "/blog/x", "", "", nil)
	if w.Code != http.StatusNotFound || errorCode(t, w) != "RECORD_NOT_FOUND" {
		t.Errorf("read deleted = %d %s", w.Code, w.Body.String())
	}

	// Unique view omits it, raw listing keeps history
	w = h.request(t, http.MethodGet, "alice.example.com", "/blog?unique=true", "", "", nil)
	var list types.RecordList
	json.Unmarshal(w.Body.Bytes(), &list)
	if len(list.Records) != 1 || list.Records[0].Name != "y" {
		t.Errorf("unique = %+v", list.Records)
	}

	w = h.request(t, http.MethodGet, "alice.example.com", "/blog", "", "", nil)
	json.Unmarshal(w.Body.Bytes(), &list)
	if list.Total != 4 {
		t.Errorf("raw total = %d, want 4 (v1, v2, keep, tombstone)", list.Total)
	}
}

func TestPurge(t *testing.T) {
	h := newHarness(t)
	token := h.createPod(t, "alice", "U1")

	h.request(t, http.MethodPost, "alice.example.com", "/blog/x", token, "secret", nil)

	w := h.request(t, http.MethodDelete, "alice.example.com", "/blog/x?purge=true", token, "", nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("purge = %d: %s", w.Code, w.Body.String())
	}

	// Content is wiped but the row keeps its position
	w = h.request(t, http.MethodGet, "alice.example.com", "/blog?i=0", "", "", nil)
	if !strings.Contains(w.Body.String(), `"purged":true`) {
		t.Errorf("purged content = %q", w.Body.String())
	}
}

func TestRoutingRewrite(t *testing.T) {
	h := newHarness(t)
	token := h.createPod(t, "alice", "U1")

	h.request(t, http.MethodPost, "alice.example.com", "/site/home", token, "welcome", nil)
	h.request(t, http.MethodPost, "alice.example.com", "/site/about", token, "about us", nil)

	routes := `{"/": "site/home", "/about": "site/about"}`
	w := h.request(t, http.MethodPost, "alice.example.com", "/.config/routing/routes", token,
		routes, map[string]string{"Content-Type": "application/json"})
	if w.Code != http.StatusCreated {
		t.Fatalf("routing write = %d: %s", w.Code, w.Body.String())
	}

	w = h.request(t, http.MethodGet, "alice.example.com", "/", "", "", nil)
	if w.Code != http.StatusOK || w.Body.String() != "welcome" {
		t.Errorf("GET / = %d %q", w.Code, w.Body.String())
	}

	w = h.request(t, http.MethodGet, "alice.example.com", "/about", "", "", nil)
	if w.Code != http.StatusOK || w.Body.String() != "about us" {
		t.Errorf("GET /about = %d %q", w.Code, w.Body.String())
	}

	// System paths are never rewritten
	w = h.request(t, http.MethodGet, "alice.example.com", "/health", "", "", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "status") {
		t.Errorf("GET /health = %d %q", w.Code, w.Body.String())
	}

	// Unmapped root stays a miss
	w = h.request(t, http.MethodGet, "bob.example.com", "/", "", "", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown pod root = %d", w.Code)
	}
}

func TestExternalBlobRedirect(t *testing.T) {
	h := newHarness(t)
	token := h.createPod(t, "alice", "U1")

	payload := strings.Repeat("b", 2048)
	w := h.request(t, http.MethodPost, "alice.example.com", "/img/logo", token,
		payload, map[string]string{"X-Record-Type": "file", "Content-Type": "text/plain"})
	if w.Code != http.StatusCreated {
		t.Fatalf("upload = %d: %s", w.Code, w.Body.String())
	}
	var result types.WriteResult
	json.Unmarshal(w.Body.Bytes(), &result)
	if result.Size != 2048 {
		t.Errorf("size = %d", result.Size)
	}

	w = h.request(t, http.MethodGet, "alice.example.com", "/img/logo", "", "", nil)
	if w.Code != http.StatusFound {
		t.Fatalf("read = %d, want 302", w.Code)
	}
	location := w.Header().Get("Location")
	if location != "https://cdn.example.com/alice/img/logo" {
		t.Errorf("Location = %v", location)
	}
	if !strings.Contains(w.Header().Get("Cache-Control"), "max-age=") {
		t.Errorf("Cache-Control = %v", w.Header().Get("Cache-Control"))
	}
}

func TestCustomRecordHeaders(t *testing.T) {
	h := newHarness(t)
	token := h.createPod(t, "alice", "U1")

	w := h.request(t, http.MethodPost, "alice.example.com", "/blog/post", token, "x",
		map[string]string{
			"X-Record-Header-Hello-World": "greetings",
			"X-Record-Header-Evil":        "dropped",
		})
	if w.Code != http.StatusCreated {
		t.Fatalf("write = %d: %s", w.Code, w.Body.String())
	}

	w = h.request(t, http.MethodGet, "alice.example.com", "/blog/post", "", "", nil)
	if got := w.Header().Get("hello-world"); got != "greetings" {
		t.Errorf("hello-world header = %q", got)
	}
	if got := w.Header().Get("evil"); got != "" {
		t.Errorf("non-allow-listed header leaked: %q", got)
	}
}

func TestPermissionStreamReference(t *testing.T) {
	h := newHarness(t)
	owner := h.createPod(t, "alice", "U1")
	u2 := h.token(t, "U2", "")

	// Create /docs guarded by a permission stream
	w := h.request(t, http.MethodPost, "alice.example.com",
		"/docs?access="+"%2F.config%2Fpermissions%2Fdocs", owner, "", nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("stream create = %d: %s", w.Code, w.Body.String())
	}

	w = h.request(t, http.MethodPost, "alice.example.com", "/docs/readme", u2, "draft", nil)
	if w.Code != http.StatusForbidden {
		t.Errorf("ungranted write = %d", w.Code)
	}

	// Grant write
	grant := `{"userId":"U2","read":true,"write":true}`
	w = h.request(t, http.MethodPost, "alice.example.com", "/.config/permissions/docs/entry", owner,
		grant, map[string]string{"Content-Type": "application/json"})
	if w.Code != http.StatusCreated {
		t.Fatalf("grant = %d: %s", w.Code, w.Body.String())
	}

	w = h.request(t, http.MethodPost, "alice.example.com", "/docs/readme", u2, "draft", nil)
	if w.Code != http.StatusCreated {
		t.Errorf("granted write = %d: %s", w.Code, w.Body.String())
	}

	// Revoke
	revoke := `{"userId":"U2","deleted":true}`
	h.request(t, http.MethodPost, "alice.example.com", "/.config/permissions/docs/entry", owner,
		revoke, map[string]string{"Content-Type": "application/json"})

	w = h.request(t, http.MethodPost, "alice.example.com", "/docs/readme", u2, "more", nil)
	if w.Code != http.StatusForbidden {
		t.Errorf("revoked write = %d", w.Code)
	}
}

func TestConfigStreamsOwnerOnly(t *testing.T) {
	h := newHarness(t)
	h.createPod(t, "alice", "U1")
	u2 := h.token(t, "U2", "")

	w := h.request(t, http.MethodPost, "alice.example.com", "/.config/routing/routes", u2,
		`{"/":"x/y"}`, nil)
	if w.Code != http.StatusForbidden {
		t.Errorf("stranger config write = %d: %s", w.Code, w.Body.String())
	}

	// Reading config streams is owner-only too
	w = h.request(t, http.MethodGet, "alice.example.com", "/.config/owner/owner", u2, "", nil)
	if w.Code != http.StatusForbidden {
		t.Errorf("stranger config read = %d", w.Code)
	}
}

func TestStreamsCatalogView(t *testing.T) {
	h := newHarness(t)
	token := h.createPod(t, "alice", "U1")
	h.request(t, http.MethodPost, "alice.example.com", "/blog/a", token, "1", nil)
	h.request(t, http.MethodPost, "alice.example.com", "/blog/b", token, "2", nil)

	w := h.request(t, http.MethodGet, "alice.example.com",
		"/.config/api/streams?recursive=true&includeRecordCounts=true&includeHashes=true", token, "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("streams view = %d: %s", w.Code, w.Body.String())
	}

	var body struct {
		Streams []*types.StreamInfo `json:"streams"`
	}
	json.Unmarshal(w.Body.Bytes(), &body)

	var blog *types.StreamInfo
	for _, s := range body.Streams {
		if s.Path == "/blog" {
			blog = s
		}
	}
	if blog == nil {
		t.Fatalf("blog stream missing from view: %s", w.Body.String())
	}
	if blog.RecordCount == nil || *blog.RecordCount != 2 {
		t.Errorf("recordCount = %v", blog.RecordCount)
	}
	if blog.HashChainValid == nil || !*blog.HashChainValid {
		t.Errorf("hashChainValid = %v", blog.HashChainValid)
	}
	if blog.LastHash == nil || *blog.LastHash == "" {
		t.Errorf("lastHash = %v", blog.LastHash)
	}

	// Not for strangers
	w = h.request(t, http.MethodGet, "alice.example.com", "/.config/api/streams", h.token(t, "U2", ""), "", nil)
	if w.Code != http.StatusForbidden {
		t.Errorf("stranger view = %d", w.Code)
	}
}

func TestSchemaValidationOnWrite(t *testing.T) {
	h := newHarness(t)
	token := h.createPod(t, "alice", "U1")

	schema := `{"schemaType":"json-schema","schema":{"type":"object","required":["title"]}}`
	w := h.request(t, http.MethodPost, "alice.example.com", "/items/.config/schema", token,
		schema, map[string]string{"Content-Type": "application/json"})
	if w.Code != http.StatusCreated {
		t.Fatalf("schema write = %d: %s", w.Code, w.Body.String())
	}

	w = h.request(t, http.MethodPost, "alice.example.com", "/items/first", token,
		`{"title":"ok"}`, map[string]string{"Content-Type": "application/json"})
	if w.Code != http.StatusCreated {
		t.Errorf("valid write = %d: %s", w.Code, w.Body.String())
	}

	w = h.request(t, http.MethodPost, "alice.example.com", "/items/second", token,
		`{"nope":true}`, map[string]string{"Content-Type": "application/json"})
	if w.Code != http.StatusBadRequest || errorCode(t, w) != "VALIDATION_ERROR" {
		t.Errorf("invalid write = %d %s", w.Code, w.Body.String())
	}
}

func TestPodClaimMismatch(t *testing.T) {
	h := newHarness(t)
	h.createPod(t, "alice", "U1")

	scoped := h.token(t, "U1", "other-pod")
	w := h.request(t, http.MethodPost, "alice.example.com", "/blog/x", scoped, "hi", nil)
	if w.Code != http.StatusForbidden || errorCode(t, w) != "POD_MISMATCH" {
		t.Errorf("pod mismatch = %d %s", w.Code, w.Body.String())
	}
}

func TestRootPodOnApex(t *testing.T) {
	h := newHarness(t)
	token := h.createPod(t, "root", "U1")

	h.request(t, http.MethodPost, "root.example.com", "/site/home", token, "apex content", nil)
	routes := `{"/": "site/home"}`
	h.request(t, http.MethodPost, "root.example.com", "/.config/routing/routes", token, routes, nil)

	// The bare apex serves the root pod, but system paths still win
	w := h.request(t, http.MethodGet, "example.com", "/", "", "", nil)
	if w.Code != http.StatusOK || w.Body.String() != "apex content" {
		t.Errorf("apex root = %d %q", w.Code, w.Body.String())
	}
	w = h.request(t, http.MethodGet, "example.com", "/health", "", "", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "checks") {
		t.Errorf("apex health = %d %q", w.Code, w.Body.String())
	}
}

func TestUnknownHost(t *testing.T) {
	h := newHarness(t)

	w := h.request(t, http.MethodGet, "ghost.example.com", "/anything", "", "", nil)
	if w.Code != http.StatusNotFound || errorCode(t, w) != "POD_NOT_FOUND" {
		t.Errorf("unknown pod = %d %s", w.Code, w.Body.String())
	}

	w = h.request(t, http.MethodGet, "stranger.org", "/anything", "", "", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown domain = %d", w.Code)
	}
}

func TestCustomDomain(t *testing.T) {
	h := newHarness(t)
	token := h.createPod(t, "alice", "U1")

	h.request(t, http.MethodPost, "alice.example.com", "/site/home", token, "via domain", nil)
	h.request(t, http.MethodPost, "alice.example.com", "/.config/domains/domains", token,
		`{"domain":"alice.dev","action":"add"}`, nil)
	h.request(t, http.MethodPost, "alice.example.com", "/.config/routing/routes", token,
		`{"/": "site/home"}`, nil)

	w := h.request(t, http.MethodGet, "alice.dev", "/", "", "", nil)
	if w.Code != http.StatusOK || w.Body.String() != "via domain" {
		t.Errorf("custom domain = %d %q", w.Code, w.Body.String())
	}
}

func TestStreamDeletion(t *testing.T) {
	h := newHarness(t)
	token := h.createPod(t, "alice", "U1")
	h.request(t, http.MethodPost, "alice.example.com", "/scratch/tmp", token, "x", nil)

	// Strangers cannot delete
	w := h.request(t, http.MethodDelete, "alice.example.com", "/scratch", h.token(t, "U2", ""), "", nil)
	if w.Code != http.StatusForbidden {
		t.Errorf("stranger stream delete = %d", w.Code)
	}

	w = h.request(t, http.MethodDelete, "alice.example.com", "/scratch", token, "", nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("stream delete = %d: %s", w.Code, w.Body.String())
	}
	w = h.request(t, http.MethodGet, "alice.example.com", "/scratch", "", "", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("deleted stream read = %d", w.Code)
	}

	// System streams are protected
	w = h.request(t, http.MethodDelete, "alice.example.com", "/.config/owner", token, "", nil)
	if w.Code != http.StatusForbidden {
		t.Errorf("system stream delete = %d: %s", w.Code, w.Body.String())
	}
}

func TestReservedPrefixes(t *testing.T) {
	h := newHarness(t)

	for _, path := range []string{"/auth/login", "/oauth2/token", "/connect"} {
		w := h.request(t, http.MethodGet, "alice.example.com", path, "", "", nil)
		if w.Code != http.StatusNotFound {
			t.Errorf("GET %s = %d, want 404", path, w.Code)
		}
	}
}
