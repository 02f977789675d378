package server

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/cors"

	"github.com/webpods-org/webpods/pkg/auth"
	"github.com/webpods-org/webpods/pkg/catalog"
	"github.com/webpods-org/webpods/pkg/config"
	"github.com/webpods-org/webpods/pkg/configstream"
	"github.com/webpods-org/webpods/pkg/errdefs"
	"github.com/webpods-org/webpods/pkg/events"
	"github.com/webpods-org/webpods/pkg/log"
	"github.com/webpods-org/webpods/pkg/metrics"
	"github.com/webpods-org/webpods/pkg/permission"
	"github.com/webpods-org/webpods/pkg/ratelimit"
	"github.com/webpods-org/webpods/pkg/resolver"
)

// systemPrefixes are always handled by system endpoints, never by pod
// content, on every host including the apex-mapped root pod.
var systemPrefixes = []string{
	"/health",
	"/metrics",
	"/auth/",
	"/api/",
	"/oauth2/",
	"/connect",
	"/.well-known/",
}

// Server is the HTTP surface: host parsing, verb dispatch, system-path
// precedence, link rewrites and content negotiation.
type Server struct {
	cfg      *config.Config
	catalog  *catalog.Catalog
	resolver *resolver.Resolver
	perms    *permission.Engine
	configs  *configstream.Manager
	auth     *auth.Manager
	limiter  *ratelimit.Limiter
	broker   *events.Broker

	httpServer  *http.Server
	system      http.Handler
	headerAllow map[string]bool
}

// New wires the server over its collaborators
func New(cfg *config.Config, cat *catalog.Catalog, authMgr *auth.Manager, limiter *ratelimit.Limiter, broker *events.Broker) *Server {
	s := &Server{
		cfg:         cfg,
		catalog:     cat,
		resolver:    resolver.New(cat),
		perms:       permission.New(cat),
		configs:     configstream.New(cat),
		auth:        authMgr,
		limiter:     limiter,
		broker:      broker,
		headerAllow: map[string]bool{},
	}
	for _, h := range cfg.Server.RecordHeaderAllowlist {
		s.headerAllow[strings.ToLower(h)] = true
	}
	s.system = s.systemRouter()
	return s
}

// Handler returns the full middleware-wrapped handler
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders: []string{"*"},
		MaxAge:         300,
	})
	return c.Handler(http.HandlerFunc(s.handleRequest))
}

// Start begins serving and blocks until the listener fails or Shutdown
// runs.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.cfg.Server.ListenAddr,
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.Server.ReadTimeout.Std(),
		WriteTimeout: s.cfg.Server.WriteTimeout.Std(),
		IdleTimeout:  s.cfg.Server.IdleTimeout.Std(),
	}

	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return errdefs.Wrap(errdefs.CodeInternalError, "failed to listen", err)
	}

	srvLog := log.WithComponent("server")
	srvLog.Info().Str("addr", s.httpServer.Addr).Msg("listening")

	if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and stops the listener
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// handleRequest is the top of the routing pipeline
func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	timer := metrics.NewTimer()
	metrics.RequestsInFlight.Inc()
	defer metrics.RequestsInFlight.Dec()

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.Server.RequestTimeout.Std())
	defer cancel()
	r = r.WithContext(ctx)

	requestID := uuid.NewString()
	w.Header().Set("X-Request-Id", requestID)

	sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
	s.route(sw, r)

	metrics.RequestsTotal.WithLabelValues(r.Method, strconv.Itoa(sw.status)).Inc()
	metrics.RequestDuration.WithLabelValues(r.Method).Observe(timer.Duration().Seconds())

	reqLog := log.WithRequestID(requestID)
	reqLog.Debug().
		Str("method", r.Method).
		Str("host", r.Host).
		Str("path", r.URL.Path).
		Int("status", sw.status).
		Dur("duration", timer.Duration()).
		Msg("request")
}

func (s *Server) route(w http.ResponseWriter, r *http.Request) {
	// System paths win on every host
	if isSystemPath(r.URL.Path) {
		s.system.ServeHTTP(w, r)
		return
	}

	pod, err := s.podForHost(r)
	if err != nil {
		writeError(w, err)
		return
	}

	s.servePodContent(w, r, pod)
}

// podForHost maps the request host onto a pod: the leftmost DNS label of a
// subdomain of the apex, the configured root pod on the bare apex, or a
// pod claiming the host as a custom domain.
func (s *Server) podForHost(r *http.Request) (string, error) {
	host := r.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.ToLower(host)
	apex := strings.ToLower(s.cfg.Server.ApexDomain)

	switch {
	case host == apex:
		if s.cfg.Server.RootPod == "" {
			return "", errdefs.New(errdefs.CodePodNotFound, "no root pod configured")
		}
		return s.cfg.Server.RootPod, nil

	case strings.HasSuffix(host, "."+apex):
		label := strings.TrimSuffix(host, "."+apex)
		if strings.Contains(label, ".") {
			return "", errdefs.Newf(errdefs.CodePodNotFound, "unknown host: %s", host)
		}
		if _, err := s.catalog.GetPod(r.Context(), label); err != nil {
			return "", err
		}
		return label, nil

	default:
		pod, err := s.configs.PodForDomain(r.Context(), host)
		if err != nil {
			return "", err
		}
		if pod == "" {
			return "", errdefs.Newf(errdefs.CodePodNotFound, "unknown host: %s", host)
		}
		return pod, nil
	}
}

func isSystemPath(path string) bool {
	for _, prefix := range systemPrefixes {
		if strings.HasSuffix(prefix, "/") {
			if strings.HasPrefix(path, prefix) || path == strings.TrimSuffix(prefix, "/") {
				return true
			}
		} else if path == prefix {
			return true
		}
	}
	return false
}

// principal extracts and verifies the bearer token, if any. Absence is
// not an error; invalid tokens are.
func (s *Server) principal(r *http.Request) (*auth.Principal, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return nil, nil
	}
	token := strings.TrimPrefix(header, "Bearer ")
	if token == header {
		return nil, errdefs.New(errdefs.CodeInvalidToken, "authorization header is not a bearer token")
	}
	return s.auth.Verify(token)
}

// requirePrincipal extracts the principal and fails UNAUTHORIZED when the
// request carries none; pod-scoped tokens are checked against the pod.
func (s *Server) requirePrincipal(r *http.Request, pod string) (*auth.Principal, error) {
	p, err := s.principal(r)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, errdefs.New(errdefs.CodeUnauthorized, "authentication required")
	}
	if pod != "" {
		if err := auth.CheckPodClaim(p, pod); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// statusWriter records the response status for metrics and logs
type statusWriter struct {
	http.ResponseWriter
	status int
	wrote  bool
}

func (w *statusWriter) WriteHeader(status int) {
	if !w.wrote {
		w.status = status
		w.wrote = true
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	w.wrote = true
	return w.ResponseWriter.Write(b)
}

// StartJanitors launches background maintenance: the rate-counter pruner
// and a debug event subscriber.
func (s *Server) StartJanitors(ctx context.Context) {
	go s.limiter.PruneLoop(ctx)

	sub := s.broker.Subscribe()
	go func() {
		defer s.broker.Unsubscribe(sub)
		for {
			select {
			case event, ok := <-sub:
				if !ok {
					return
				}
				eventLog := log.WithComponent("events")
				eventLog.Debug().
					Str("type", string(event.Type)).
					Str("pod", event.Pod).
					Str("stream", event.Stream).
					Str("record", event.Record).
					Msg("event")
			case <-ctx.Done():
				return
			}
		}
	}()
}
