package server

import (
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/webpods-org/webpods/pkg/auth"
	"github.com/webpods-org/webpods/pkg/catalog"
	"github.com/webpods-org/webpods/pkg/configstream"
	"github.com/webpods-org/webpods/pkg/errdefs"
	"github.com/webpods-org/webpods/pkg/metrics"
	"github.com/webpods-org/webpods/pkg/ratelimit"
	"github.com/webpods-org/webpods/pkg/resolver"
	"github.com/webpods-org/webpods/pkg/types"
)

// recordHeaderPrefix marks request headers persisted into a record
const recordHeaderPrefix = "x-record-header-"

func (s *Server) servePodContent(w http.ResponseWriter, r *http.Request, pod string) {
	switch r.Method {
	case http.MethodGet, http.MethodHead:
		s.serveRead(w, r, pod)
	case http.MethodPost:
		s.serveWrite(w, r, pod)
	case http.MethodDelete:
		s.serveDelete(w, r, pod)
	default:
		writeErrorStatus(w, http.StatusMethodNotAllowed, errdefs.CodeInvalidInput, "method not allowed")
	}
}

// serveRead handles pod-content GETs: the streams catalog view, link
// rewrites, index-addressed reads, named record reads and stream listings.
func (s *Server) serveRead(w http.ResponseWriter, r *http.Request, pod string) {
	principal, err := s.principal(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if principal != nil {
		if err := auth.CheckPodClaim(principal, pod); err != nil {
			writeError(w, err)
			return
		}
	}
	userID := ""
	if principal != nil {
		userID = principal.UserID
	}

	if err := s.limiter.Allow(pod, ratelimit.ActionRead); err != nil {
		writeError(w, err)
		return
	}

	path := cleanPath(r.URL.Path)
	query := r.URL.Query()

	// Catalog views under .config/api are read endpoints, not streams
	switch path {
	case "/.config/api/streams":
		s.serveStreamsView(w, r, pod, userID)
		return
	case "/.config/api/domains":
		s.serveDomainsView(w, r, pod, userID)
		return
	}

	// One link-rewrite hop; the rewritten path is resolved directly so a
	// routing cycle cannot recurse.
	if target, ok := s.rewritePath(r, pod, path); ok {
		path = target.path
		if target.query != nil {
			query = target.query
		}
	}

	if path == "/" {
		writeError(w, errdefs.New(errdefs.CodeStreamNotFound, "pod root has no routing entry"))
		return
	}

	indexSpec := query.Get("i")
	unique := queryBool(query, "unique")
	recursive := queryBool(query, "recursive")

	if indexSpec != "" {
		if unique || recursive || query.Get("limit") != "" || query.Get("after") != "" {
			writeError(w, errdefs.New(errdefs.CodeInvalidInput, "i excludes paging parameters"))
			return
		}
		s.serveByIndex(w, r, pod, path, indexSpec, userID)
		return
	}
	if unique && recursive {
		writeError(w, errdefs.New(errdefs.CodeInvalidInput, "unique excludes recursive"))
		return
	}

	target, err := s.resolver.Resolve(r.Context(), pod, path, resolver.ModeReadAuto)
	if err != nil {
		writeError(w, err)
		return
	}

	if target.RecordName != "" {
		if err := s.perms.CanRead(r.Context(), target.Stream, userID); err != nil {
			writeError(w, err)
			return
		}
		record, err := s.catalog.GetRecordByName(r.Context(), target.Stream, target.RecordName, false)
		if err == nil {
			s.serveRecord(w, record)
			return
		}
		if !errdefs.IsCode(err, errdefs.CodeRecordNotFound) {
			writeError(w, err)
			return
		}
		// The whole path may name a nested stream instead
		full, ferr := s.catalog.GetStreamByPath(r.Context(), pod, path)
		if ferr != nil {
			writeError(w, err)
			return
		}
		target = &resolver.Target{Stream: full, StreamPath: path}
	}

	s.serveListing(w, r, pod, target.Stream, query, userID, unique, recursive)
}

// rewriteTarget is a parsed routing entry
type rewriteTarget struct {
	path  string
	query url.Values
}

// rewritePath consults the pod's routing config for the requested path.
// The target form is "<stream>[?query|/name]".
func (s *Server) rewritePath(r *http.Request, pod, path string) (*rewriteTarget, bool) {
	routes, err := s.configs.Routing(r.Context(), pod)
	if err != nil || len(routes) == 0 {
		return nil, false
	}

	mapped, ok := routes[path]
	if !ok || mapped == "" {
		return nil, false
	}

	target := &rewriteTarget{}
	if idx := strings.IndexByte(mapped, '?'); idx >= 0 {
		q, err := url.ParseQuery(mapped[idx+1:])
		if err == nil {
			target.query = q
		}
		mapped = mapped[:idx]
	}
	if !strings.HasPrefix(mapped, "/") {
		mapped = "/" + mapped
	}
	target.path = mapped
	return target, true
}

// serveByIndex resolves the whole path as a stream and addresses records
// by position.
func (s *Server) serveByIndex(w http.ResponseWriter, r *http.Request, pod, path, indexSpec, userID string) {
	target, err := s.resolver.Resolve(r.Context(), pod, path, resolver.ModeStream)
	if err != nil {
		writeError(w, err)
		return
	}
	if target.Stream == nil {
		writeError(w, errdefs.Newf(errdefs.CodeStreamNotFound, "stream not found: %s", path))
		return
	}
	if err := s.perms.CanRead(r.Context(), target.Stream, userID); err != nil {
		writeError(w, err)
		return
	}

	spec, err := parseIndexSpec(indexSpec)
	if err != nil {
		writeError(w, err)
		return
	}

	records, err := s.catalog.GetRecordsByIndex(r.Context(), target.Stream, spec)
	if err != nil {
		writeError(w, err)
		return
	}

	if !spec.IsRange {
		s.serveRecord(w, records[0])
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"records": records})
}

// serveRecord negotiates a single record response: a redirect for external
// content, the stored payload otherwise, with chain metadata in headers.
func (s *Server) serveRecord(w http.ResponseWriter, record *types.Record) {
	if record.Storage != nil {
		w.Header().Set("Cache-Control", "public, max-age="+strconv.Itoa(s.cfg.Server.RedirectMaxAge))
		w.Header().Set("Location", record.Storage.URL)
		metrics.BlobRedirectsTotal.Inc()
		w.WriteHeader(http.StatusFound)
		return
	}

	w.Header().Set("X-Index", strconv.FormatInt(record.Index, 10))
	w.Header().Set("X-Hash", record.Hash)
	if record.PreviousHash != "" {
		w.Header().Set("X-Previous-Hash", record.PreviousHash)
	}
	w.Header().Set("X-Content-Hash", record.ContentHash)
	w.Header().Set("X-Author", record.UserID)
	w.Header().Set("X-Timestamp", types.FormatTimestamp(record.CreatedAt))
	for k, v := range record.Headers {
		w.Header().Set(strings.ToLower(k), v)
	}

	contentType := record.ContentType
	if contentType == "" {
		contentType = "text/plain"
	}
	w.Header().Set("Content-Type", contentType)
	w.Write([]byte(record.Content))
}

// serveListing pages a stream's records
func (s *Server) serveListing(w http.ResponseWriter, r *http.Request, pod string, stream *types.Stream, query url.Values, userID string, unique, recursive bool) {
	if err := s.perms.CanRead(r.Context(), stream, userID); err != nil {
		writeError(w, err)
		return
	}

	opts, err := parseListOptions(query)
	if err != nil {
		writeError(w, err)
		return
	}
	opts.Unique = unique

	if recursive {
		s.serveRecursiveListing(w, r, pod, stream, opts, userID)
		return
	}

	list, err := s.catalog.ListRecords(r.Context(), stream, opts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// serveRecursiveListing merges the stream's records with its descendants',
// ordered by path then index, and pages positionally. Streams the caller
// cannot read are skipped rather than failing the whole listing.
func (s *Server) serveRecursiveListing(w http.ResponseWriter, r *http.Request, pod string, stream *types.Stream, opts types.ListOptions, userID string) {
	streams, err := s.catalog.GetStreamsWithPrefix(r.Context(), pod, stream.Path)
	if err != nil {
		writeError(w, err)
		return
	}

	var all []*types.Record
	for _, sub := range streams {
		if sub.ID != stream.ID {
			if err := s.perms.CanRead(r.Context(), sub, userID); err != nil {
				continue
			}
		}
		records, err := s.catalog.Store().ListAllRecords(sub.ID)
		if err != nil {
			writeError(w, err)
			return
		}
		all = append(all, records...)
	}

	sort.Slice(all, func(i, j int) bool {
		if all[i].Path != all[j].Path {
			return all[i].Path < all[j].Path
		}
		return all[i].Index < all[j].Index
	})

	total := int64(len(all))
	start := int64(0)
	if opts.After != nil {
		after := *opts.After
		if after < 0 {
			after = total + after - 1
			if after < -1 {
				after = -1
			}
		}
		start = after + 1
	}
	if start > total {
		start = total
	}

	limit := int64(s.cfg.Server.DefaultRecordLimit)
	if opts.Limit > 0 {
		limit = int64(opts.Limit)
		if limit > int64(s.cfg.Server.MaxRecordLimit) {
			limit = int64(s.cfg.Server.MaxRecordLimit)
		}
	}

	end := start + limit
	if end > total {
		end = total
	}

	writeJSON(w, http.StatusOK, &types.RecordList{
		Records: all[start:end],
		Total:   total,
		HasMore: end < total,
	})
}

// serveStreamsView is the read API at .config/api/streams: a catalog view
// restricted to the pod owner.
func (s *Server) serveStreamsView(w http.ResponseWriter, r *http.Request, pod, userID string) {
	if err := s.requireOwner(r, pod, userID); err != nil {
		writeError(w, err)
		return
	}

	query := r.URL.Query()
	infos, err := s.catalog.ListStreams(r.Context(), pod, types.StreamListOptions{
		Path:                query.Get("path"),
		Recursive:           queryBool(query, "recursive"),
		IncludeRecordCounts: queryBool(query, "includeRecordCounts"),
		IncludeHashes:       queryBool(query, "includeHashes"),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"streams": infos})
}

// serveDomainsView exposes the folded custom domain set to the owner
func (s *Server) serveDomainsView(w http.ResponseWriter, r *http.Request, pod, userID string) {
	if err := s.requireOwner(r, pod, userID); err != nil {
		writeError(w, err)
		return
	}

	domains, err := s.configs.Domains(r.Context(), pod)
	if err != nil {
		writeError(w, err)
		return
	}
	if domains == nil {
		domains = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"domains": domains})
}

func (s *Server) requireOwner(r *http.Request, pod, userID string) error {
	if userID == "" {
		return errdefs.New(errdefs.CodeUnauthorized, "authentication required")
	}
	owner, err := s.catalog.Owner(r.Context(), pod)
	if err != nil {
		return err
	}
	if owner != userID {
		return errdefs.New(errdefs.CodeForbidden, "pod owner required")
	}
	return nil
}

// serveWrite handles POSTs: stream creation on an empty body, record
// appends otherwise.
func (s *Server) serveWrite(w http.ResponseWriter, r *http.Request, pod string) {
	principal, err := s.requirePrincipal(r, pod)
	if err != nil {
		writeError(w, err)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, s.cfg.Server.MaxBodyBytes+1))
	if err != nil {
		writeError(w, errdefs.Wrap(errdefs.CodeInvalidInput, "failed to read body", err))
		return
	}
	if int64(len(body)) > s.cfg.Server.MaxBodyBytes {
		writeError(w, errdefs.New(errdefs.CodeInvalidInput, "request body too large"))
		return
	}

	path := cleanPath(r.URL.Path)
	accessMode := r.URL.Query().Get("access")
	external := strings.EqualFold(r.Header.Get("X-Record-Type"), "file")

	if len(body) == 0 && !external {
		s.serveStreamCreate(w, r, pod, path, accessMode, principal)
		return
	}

	target, err := s.resolver.Resolve(r.Context(), pod, path, resolver.ModeRecordWrite)
	if err != nil {
		writeError(w, err)
		return
	}

	stream := target.Stream
	if stream == nil {
		// Implicit stream creation on first write
		if err := s.canCreateStream(r, pod, target.StreamPath, principal); err != nil {
			writeError(w, err)
			return
		}
		if err := s.limiter.Allow(principal.UserID, ratelimit.ActionStreamCreate); err != nil {
			writeError(w, err)
			return
		}
		stream, err = s.catalog.GetOrCreateStream(r.Context(), pod, target.StreamPath, principal.UserID, accessMode)
		if err != nil {
			writeError(w, err)
			return
		}
	}

	if err := s.perms.CanWrite(r.Context(), stream, principal.UserID); err != nil {
		writeError(w, err)
		return
	}
	if err := s.limiter.Allow(pod, ratelimit.ActionWrite); err != nil {
		writeError(w, err)
		return
	}

	contentType := r.Header.Get("Content-Type")
	if err := s.configs.ValidateRecord(r.Context(), stream, contentType, body); err != nil {
		writeError(w, err)
		return
	}

	record, err := s.catalog.Append(r.Context(), stream, principal.UserID, catalog.AppendOptions{
		Name:        target.RecordName,
		Content:     body,
		ContentType: contentType,
		Headers:     s.recordHeaders(r),
		External:    external,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	// Writes to a `.config` child may toggle the parent's schema flag
	if stream.Name == configstream.SchemaStreamName {
		if err := s.configs.SyncSchemaFlag(r.Context(), stream); err != nil {
			writeError(w, err)
			return
		}
	}

	writeJSON(w, http.StatusCreated, &types.WriteResult{
		Index:        record.Index,
		Name:         record.Name,
		Path:         record.Path,
		Hash:         record.Hash,
		Size:         record.Size,
		ContentHash:  record.ContentHash,
		PreviousHash: record.PreviousHash,
	})
}

func (s *Server) serveStreamCreate(w http.ResponseWriter, r *http.Request, pod, path, accessMode string, principal *auth.Principal) {
	target, err := s.resolver.Resolve(r.Context(), pod, path, resolver.ModeStream)
	if err != nil {
		writeError(w, err)
		return
	}
	if target.Stream != nil {
		writeJSON(w, http.StatusOK, target.Stream)
		return
	}

	if err := s.canCreateStream(r, pod, target.StreamPath, principal); err != nil {
		writeError(w, err)
		return
	}
	if err := s.limiter.Allow(principal.UserID, ratelimit.ActionStreamCreate); err != nil {
		writeError(w, err)
		return
	}

	stream, err := s.catalog.GetOrCreateStream(r.Context(), pod, target.StreamPath, principal.UserID, accessMode)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, stream)
}

// canCreateStream decides who may create a missing stream: whoever can
// write the deepest existing ancestor, or the pod owner when no ancestor
// exists. System streams always require the owner.
func (s *Server) canCreateStream(r *http.Request, pod, path string, principal *auth.Principal) error {
	owner, err := s.catalog.Owner(r.Context(), pod)
	if err != nil {
		return err
	}
	if principal.UserID == owner {
		return nil
	}
	if types.IsSystemPath(path) {
		return errdefs.New(errdefs.CodeForbidden, "system streams belong to the pod owner")
	}

	segments := types.SplitPath(path)
	for i := len(segments) - 1; i >= 1; i-- {
		ancestor, err := s.catalog.GetStreamByPath(r.Context(), pod, types.JoinPath(segments[:i]))
		if err != nil {
			if errdefs.IsCode(err, errdefs.CodeStreamNotFound) {
				continue
			}
			return err
		}
		return s.perms.CanWrite(r.Context(), ancestor, principal.UserID)
	}
	return errdefs.New(errdefs.CodeForbidden, "root-level streams belong to the pod owner")
}

// recordHeaders extracts the allow-listed x-record-header-* values
func (s *Server) recordHeaders(r *http.Request) map[string]string {
	var headers map[string]string
	for name, values := range r.Header {
		lower := strings.ToLower(name)
		if !strings.HasPrefix(lower, recordHeaderPrefix) || len(values) == 0 {
			continue
		}
		key := strings.TrimPrefix(lower, recordHeaderPrefix)
		if !s.headerAllow[key] {
			continue
		}
		if headers == nil {
			headers = map[string]string{}
		}
		headers[key] = values[0]
	}
	return headers
}

// serveDelete handles DELETEs: record tombstones, purges and stream
// destruction.
func (s *Server) serveDelete(w http.ResponseWriter, r *http.Request, pod string) {
	principal, err := s.requirePrincipal(r, pod)
	if err != nil {
		writeError(w, err)
		return
	}

	path := cleanPath(r.URL.Path)
	purge := queryBool(r.URL.Query(), "purge")

	target, err := s.resolver.Resolve(r.Context(), pod, path, resolver.ModeReadAuto)
	if err != nil {
		writeError(w, err)
		return
	}

	if target.RecordName != "" {
		// The path may name a stream instead when no such record exists
		if _, rerr := s.catalog.GetRecordByName(r.Context(), target.Stream, target.RecordName, purge); rerr != nil {
			if full, ferr := s.catalog.GetStreamByPath(r.Context(), pod, path); ferr == nil {
				s.deleteStream(w, r, pod, full, principal)
				return
			}
			writeError(w, rerr)
			return
		}

		if err := s.perms.CanWrite(r.Context(), target.Stream, principal.UserID); err != nil {
			writeError(w, err)
			return
		}

		if purge {
			if err := s.requirePurgeRights(r, pod, target, principal); err != nil {
				writeError(w, err)
				return
			}
			if err := s.catalog.PurgeRecord(r.Context(), target.Stream, target.RecordName, principal.UserID); err != nil {
				writeError(w, err)
				return
			}
		} else {
			if err := s.catalog.SoftDeleteRecord(r.Context(), target.Stream, target.RecordName, principal.UserID); err != nil {
				writeError(w, err)
				return
			}
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}

	s.deleteStream(w, r, pod, target.Stream, principal)
}

// requirePurgeRights restricts purge to the pod owner or the record author
func (s *Server) requirePurgeRights(r *http.Request, pod string, target *resolver.Target, principal *auth.Principal) error {
	owner, err := s.catalog.Owner(r.Context(), pod)
	if err != nil {
		return err
	}
	if principal.UserID == owner {
		return nil
	}
	record, err := s.catalog.GetRecordByName(r.Context(), target.Stream, target.RecordName, true)
	if err != nil {
		return err
	}
	if record.UserID == principal.UserID {
		return nil
	}
	return errdefs.New(errdefs.CodeForbidden, "purge requires the pod owner or the record author")
}

func (s *Server) deleteStream(w http.ResponseWriter, r *http.Request, pod string, stream *types.Stream, principal *auth.Principal) {
	if err := s.catalog.DeleteStream(r.Context(), pod, stream, principal.UserID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Query helpers

func cleanPath(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 {
		p = strings.TrimSuffix(p, "/")
	}
	return p
}

func queryBool(q url.Values, key string) bool {
	v := strings.ToLower(q.Get(key))
	return v == "true" || v == "1" || v == "yes"
}

func parseListOptions(q url.Values) (types.ListOptions, error) {
	var opts types.ListOptions

	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return opts, errdefs.Newf(errdefs.CodeInvalidInput, "invalid limit: %s", raw)
		}
		opts.Limit = n
	}
	if raw := q.Get("after"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return opts, errdefs.Newf(errdefs.CodeInvalidInput, "invalid after: %s", raw)
		}
		opts.After = &n
	}
	if raw := q.Get("fields"); raw != "" {
		for _, f := range strings.Split(raw, ",") {
			if f = strings.TrimSpace(f); f != "" {
				opts.Fields = append(opts.Fields, f)
			}
		}
	}
	if raw := q.Get("maxContentSize"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 0 {
			return opts, errdefs.Newf(errdefs.CodeInvalidInput, "invalid maxContentSize: %s", raw)
		}
		opts.MaxContentSize = n
	}
	return opts, nil
}

// parseIndexSpec parses the i= query: a single index (negatives count from
// the end) or a half-open range a:b with either endpoint negative and the
// end optional.
func parseIndexSpec(raw string) (types.IndexSpec, error) {
	var spec types.IndexSpec

	if idx := strings.IndexByte(raw, ':'); idx >= 0 {
		spec.IsRange = true
		startRaw, endRaw := raw[:idx], raw[idx+1:]

		if startRaw == "" {
			spec.Start = 0
		} else {
			n, err := strconv.ParseInt(startRaw, 10, 64)
			if err != nil {
				return spec, errdefs.Newf(errdefs.CodeInvalidInput, "invalid index range: %s", raw)
			}
			spec.Start = n
		}
		if endRaw != "" {
			n, err := strconv.ParseInt(endRaw, 10, 64)
			if err != nil {
				return spec, errdefs.Newf(errdefs.CodeInvalidInput, "invalid index range: %s", raw)
			}
			spec.End = n
			spec.HasEnd = true
		}
		return spec, nil
	}

	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return spec, errdefs.Newf(errdefs.CodeInvalidInput, "invalid index: %s", raw)
	}
	spec.Start = n
	return spec, nil
}
