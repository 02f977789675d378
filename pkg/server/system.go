package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/webpods-org/webpods/pkg/errdefs"
	"github.com/webpods-org/webpods/pkg/health"
	"github.com/webpods-org/webpods/pkg/metrics"
	"github.com/webpods-org/webpods/pkg/ratelimit"
)

// Version is stamped via ldflags at build time
var Version = "dev"

// systemRouter serves the fixed system-path set. Pod content can never
// shadow these paths.
func (s *Server) systemRouter() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", health.Handler(
		&health.StoreChecker{Store: s.catalog.Store()},
		&health.BlobChecker{Root: s.cfg.Blob.Root},
	))
	r.Handle("/metrics", metrics.Handler())

	r.Get("/.well-known/webpods", s.handleInstanceDescriptor)

	r.Route("/api", func(r chi.Router) {
		r.Post("/pods", s.handleCreatePod)
		r.Get("/pods", s.handleListPods)
		r.Delete("/pods/{name}", s.handleDeletePod)

		// OAuth client registration belongs to the authorization collaborator
		r.HandleFunc("/oauth/clients", s.handleReserved)
	})

	// Identity collaborator surface: reserved so pod content can never
	// claim these prefixes.
	r.HandleFunc("/auth/*", s.handleReserved)
	r.HandleFunc("/oauth2/*", s.handleReserved)
	r.HandleFunc("/connect", s.handleReserved)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeErrorStatus(w, http.StatusNotFound, errdefs.CodeInvalidPath, "unknown system path")
	})

	return r
}

func (s *Server) handleReserved(w http.ResponseWriter, r *http.Request) {
	writeErrorStatus(w, http.StatusNotFound, errdefs.CodeInvalidPath,
		"reserved path, served by the identity collaborator")
}

func (s *Server) handleInstanceDescriptor(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":    "webpods",
		"version": Version,
		"apex":    s.cfg.Server.ApexDomain,
		"rootPod": s.cfg.Server.RootPod,
	})
}

type createPodRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleCreatePod(w http.ResponseWriter, r *http.Request) {
	p, err := s.requirePrincipal(r, "")
	if err != nil {
		writeError(w, err)
		return
	}

	var req createPodRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errdefs.Wrap(errdefs.CodeInvalidInput, "malformed request body", err))
		return
	}

	if err := s.limiter.Allow(p.UserID, ratelimit.ActionPodCreate); err != nil {
		writeError(w, err)
		return
	}

	pod, err := s.catalog.CreatePod(r.Context(), req.Name, p.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, pod)
}

func (s *Server) handleListPods(w http.ResponseWriter, r *http.Request) {
	p, err := s.requirePrincipal(r, "")
	if err != nil {
		writeError(w, err)
		return
	}

	pods, err := s.catalog.ListUserPods(r.Context(), p.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"pods": pods})
}

func (s *Server) handleDeletePod(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	p, err := s.requirePrincipal(r, name)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := s.catalog.DeletePod(r.Context(), name, p.UserID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
