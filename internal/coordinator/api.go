package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/dreamware/keysweep/internal/cluster"
	"github.com/dreamware/keysweep/internal/metrics"
)

// Server exposes a Coordinator over HTTP for remote nodes.
//
// Routes:
//
//	POST /register  cluster.RegisterRequest -> cluster.RegisterReply
//	POST /chunk     cluster.ChunkRequest    -> cluster.TaskReply
//	POST /found     cluster.FoundNotice     -> 204
//	POST /summary   cluster.SummaryReport   -> 204
//	GET  /status    cluster.StatusReply
//	GET  /health    200
//	GET  /metrics   prometheus exposition
//
// Handlers only decode, forward to the coordinator's inbox and encode; the
// coordinator's state never leaves its actor goroutine.
type Server struct {
	jobID    string
	coord    *Coordinator
	roster   *Roster
	registry *metrics.Registry
	router   *chi.Mux
	logger   *log.Entry
}

// NewServer wires the routes. registry may be nil, in which case /metrics is
// not served.
func NewServer(jobID string, coord *Coordinator, roster *Roster, registry *metrics.Registry) *Server {
	s := &Server{
		jobID:    jobID,
		coord:    coord,
		roster:   roster,
		registry: registry,
		router:   chi.NewRouter(),
		logger:   log.WithFields(log.Fields{"component": "api", "job": jobID}),
	}

	s.router.Use(middleware.RequestID)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Recoverer)

	s.router.Get("/health", s.handleHealth)
	s.router.Get("/status", s.handleStatus)
	s.router.Post("/register", s.handleRegister)
	s.router.Post("/chunk", s.handleChunk)
	s.router.Post("/found", s.handleFound)
	s.router.Post("/summary", s.handleSummary)
	if registry != nil {
		s.router.Handle("/metrics", registry.Handler())
	}
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.WithFields(log.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   ww.Status(),
			"duration": time.Since(start),
		}).Debug("http request")
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req cluster.RegisterRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Node.ID == "" || req.Node.Addr == "" {
		errorResponse(w, http.StatusBadRequest, "missing id/addr")
		return
	}
	added, ok := s.roster.Register(req.Node)
	if !ok {
		errorResponse(w, http.StatusConflict, "job is full")
		return
	}
	if added {
		s.logger.WithFields(log.Fields{"node": req.Node.ID, "addr": req.Node.Addr}).Info("node registered")
	}
	writeJSON(w, http.StatusOK, cluster.RegisterReply{JobID: s.jobID, Expected: s.coord.cfg.Workers})
}

func (s *Server) handleChunk(w http.ResponseWriter, r *http.Request) {
	var req cluster.ChunkRequest
	if !decode(w, r, &req) {
		return
	}
	t, err := s.coord.RequestChunk(r.Context(), req.Worker)
	if err != nil {
		s.forwardError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cluster.TaskReplyFrom(t))
}

func (s *Server) handleFound(w http.ResponseWriter, r *http.Request) {
	var n cluster.FoundNotice
	if !decode(w, r, &n) {
		return
	}
	if err := s.coord.ReportFound(r.Context(), n.Worker, n.Key); err != nil {
		s.forwardError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	var rep cluster.SummaryReport
	if !decode(w, r, &rep) {
		return
	}
	if err := s.coord.ReportSummary(r.Context(), rep.Worker, rep.Summary()); err != nil {
		s.forwardError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.coord.Status(r.Context())
	if err != nil {
		s.forwardError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cluster.StatusReply{
		JobID:     s.jobID,
		State:     st.State.String(),
		Next:      st.Next,
		Exhausted: st.Exhausted,
		Found:     st.Match.Found,
		Key:       st.Match.Key,
		Chunks:    st.Chunks,
		Summaries: st.Summaries,
		Expected:  st.Expected,
		Requeued:  st.Requeued,
		Nodes:     s.roster.List(),
	})
}

func (s *Server) forwardError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrClosed) {
		errorResponse(w, http.StatusGone, err.Error())
		return
	}
	s.logger.WithError(err).Warn("request abandoned")
	errorResponse(w, http.StatusServiceUnavailable, err.Error())
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		errorResponse(w, http.StatusBadRequest, "bad json")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func errorResponse(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message, "status": status})
}

// HTTPBroadcaster relays the found key to every registered node except the
// reporter with POST {addr}/found. Each delivery runs on its own goroutine;
// failures are logged and dropped.
type HTTPBroadcaster struct {
	Roster  *Roster
	Timeout time.Duration
}

// Broadcast implements Broadcaster.
func (b HTTPBroadcaster) Broadcast(key uint64, from string) {
	timeout := b.Timeout
	if timeout <= 0 {
		timeout = 4 * time.Second
	}
	notice := cluster.FoundNotice{Worker: from, Key: key}
	for _, n := range b.Roster.List() {
		if n.ID == from {
			continue
		}
		go func(n cluster.NodeInfo) {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			if err := cluster.PostJSON(ctx, n.Addr+"/found", notice, nil); err != nil {
				log.WithFields(log.Fields{"component": "broadcast", "node": n.ID}).
					WithError(err).Warn("found relay failed")
			}
		}(n)
	}
}
