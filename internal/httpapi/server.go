// Package httpapi implements the gateway's HTTP control surface (spec
// §6): template/service CRUD, routing and tool execution, liveness, an
// aggregate-counts status endpoint, and an SSE log tail — grounded on
// the teacher's internal/aggregator/server.go createStandardMux (a
// stdlib http.ServeMux with a dedicated unauthenticated /health route
// and every other path behind a middleware chain).
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/giantswarm/mcp-gatekeeper/internal/auth"
	"github.com/giantswarm/mcp-gatekeeper/internal/backpressure"
	"github.com/giantswarm/mcp-gatekeeper/internal/dispatcher"
	"github.com/giantswarm/mcp-gatekeeper/internal/eventbus"
	"github.com/giantswarm/mcp-gatekeeper/internal/gwerrors"
	"github.com/giantswarm/mcp-gatekeeper/internal/store"
	"github.com/giantswarm/mcp-gatekeeper/pkg/logging"
)

// DefaultRateLimitCost is the cost charged against a principal's rate
// budget for one API call.
const DefaultRateLimitCost = 1

type principalContextKey struct{}

// TemplateDefaults fills in a template's unset timeout/retry fields at
// creation time from the gateway's global configuration (spec §6: the
// resolved Config supplies the fallback any template may omit).
type TemplateDefaults struct {
	TimeoutMs int
	Retries   int
}

// Server is the gateway's HTTP control surface.
type Server struct {
	store        *store.Store
	dispatcher   *dispatcher.Dispatcher
	authn        *auth.Authenticator
	rateLimiter  *auth.RateLimiter
	bus          *eventbus.Bus
	backpressure *backpressure.Controller
	startFn      dispatcher.StartInstanceFunc
	defaults     TemplateDefaults
	logBackfill  *logRing
	mux          *http.ServeMux
}

// New builds a Server with all routes registered. startFn realizes a
// template into a running instance for POST /api/services; it may be nil,
// in which case that endpoint always fails with Internal. bp supplies the
// in-flight request count for GET /api/status and may be nil, in which
// case that field always reports zero.
func New(st *store.Store, disp *dispatcher.Dispatcher, authn *auth.Authenticator, rl *auth.RateLimiter, bus *eventbus.Bus, bp *backpressure.Controller, startFn dispatcher.StartInstanceFunc, defaults TemplateDefaults) *Server {
	s := &Server{
		store:        st,
		dispatcher:   disp,
		authn:        authn,
		rateLimiter:  rl,
		bus:          bus,
		backpressure: bp,
		startFn:      startFn,
		defaults:     defaults,
		logBackfill:  newLogRing(10),
	}
	if bus != nil {
		bus.Subscribe(s.captureLog, eventbus.LifecycleLog)
	}
	s.mux = s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.handleHealth)

	guarded := s.guard(http.HandlerFunc(s.handleAPI))
	mux.Handle("/api/", guarded)

	return mux
}

// handleHealth serves GET /health unauthenticated (spec §6, §8 property
// 6: "auth bypass for health").
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// guard applies authentication (spec §4.9, step 1) and rate limiting
// (step 2) ahead of every /api/ route, since both failure modes (401,
// 429) and header conventions are identical across the whole control
// surface, not just the dispatcher's execute endpoint.
func (s *Server) guard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, err := s.authn.Authenticate(r.Context(), r)
		if err != nil {
			logging.Audit(logging.AuditEvent{Action: "authenticate", Outcome: "failure", Target: r.URL.Path, Error: err.Error()})
			writeError(w, err)
			return
		}
		if s.rateLimiter != nil {
			if err := s.rateLimiter.Allow(r.Context(), principal.Subject, DefaultRateLimitCost); err != nil {
				logging.Audit(logging.AuditEvent{Action: "rate-limit", Outcome: "failure", Principal: principal.Subject, Target: r.URL.Path})
				writeError(w, err)
				return
			}
		}
		ctx := context.WithValue(r.Context(), principalContextKey{}, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) handleAPI(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api")
	switch {
	case path == "/templates" && r.Method == http.MethodPost:
		s.handleUpsertTemplate(w, r)
	case path == "/templates" && r.Method == http.MethodGet:
		s.handleListTemplates(w, r)
	case strings.HasPrefix(path, "/templates/") && r.Method == http.MethodGet:
		s.handleGetTemplate(w, r, strings.TrimPrefix(path, "/templates/"))
	case strings.HasPrefix(path, "/templates/") && r.Method == http.MethodDelete:
		s.handleDeleteTemplate(w, r, strings.TrimPrefix(path, "/templates/"))
	case path == "/services" && r.Method == http.MethodPost:
		s.handleStartService(w, r)
	case path == "/services" && r.Method == http.MethodGet:
		s.handleListServices(w, r)
	case strings.HasPrefix(path, "/services/") && r.Method == http.MethodGet:
		s.handleGetService(w, r, strings.TrimPrefix(path, "/services/"))
	case strings.HasPrefix(path, "/services/") && r.Method == http.MethodDelete:
		s.handleDeleteService(w, r, strings.TrimPrefix(path, "/services/"))
	case path == "/route" && r.Method == http.MethodPost:
		s.handleRoute(w, r)
	case path == "/tools/execute" && r.Method == http.MethodPost:
		s.handleToolsExecute(w, r)
	case path == "/logs/stream" && r.Method == http.MethodGet:
		s.handleLogsStream(w, r)
	case path == "/status" && r.Method == http.MethodGet:
		s.handleStatus(w, r)
	default:
		writeError(w, gwerrors.New(gwerrors.NotFound, "no such route: "+r.Method+" "+r.URL.Path))
	}
}

func principalFromContext(ctx context.Context) auth.Principal {
	p, _ := ctx.Value(principalContextKey{}).(auth.Principal)
	return p
}

func writeError(w http.ResponseWriter, err error) {
	gwErr, ok := gwerrors.As(err)
	kind := gwerrors.Internal
	if ok {
		kind = gwErr.Kind
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(gwerrors.HTTPStatus(kind))
	_ = json.NewEncoder(w).Encode(gwerrors.ToEnvelope(err))
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func decodeBody(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return gwerrors.Wrap(gwerrors.InvalidArgument, err, "invalid request body")
	}
	return nil
}
