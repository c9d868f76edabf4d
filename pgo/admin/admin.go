// Package admin exposes a minimal read-only HTTP introspection surface
// over a running pgo.Registry, grounded on the teacher's
// protocol/http/listener.go: the same net/http.Server construction, a
// ServeMux with one handler per concern, and a health endpoint with the
// same shape as the teacher's handleHealth.
//
// Nothing here is consulted by the dispatcher or the worker. It exists so
// an operator can see what the framework is doing; reading it can never
// change what state a group is in, preserving spec.md §1's "no durable
// caching across process restarts" non-goal for the core itself.
package admin

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/ha1tch/pgo/pgo"
	"github.com/ha1tch/pgo/pgo/log"
)

// Server serves /status and /healthz for one Registry.
type Server struct {
	reg        *pgo.Registry
	logger     *log.Logger
	httpServer *http.Server
	listener   net.Listener
}

// New builds a Server bound to reg. logger may be nil to use the package
// default logger.
func New(reg *pgo.Registry, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}

	s := &Server{reg: reg, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/healthz", s.handleHealth)

	s.httpServer = &http.Server{
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  30 * time.Second,
	}
	return s
}

// ListenAndServe starts the admin listener on addr and blocks, matching
// the teacher listener's Listen()-starts-goroutine shape but synchronous
// here since cmd/pgohost runs it in its own goroutine.
func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.listener = ln

	s.logger.System().Info("admin listener started", "address", addr)
	err = s.httpServer.Serve(ln)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the admin listener, bounded by ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// groupView is the JSON shape of one group's status.
type groupView struct {
	Group   string `json:"group"`
	State   string `json:"state"`
	Count   uint64 `json:"invocation_count"`
	LibPath string `json:"library_path,omitempty"`
}

// funcView is the JSON shape of one function's status.
type funcView struct {
	Func   string      `json:"func"`
	Groups []groupView `json:"groups"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	statuses := s.reg.Status()
	views := make([]funcView, len(statuses))
	for i, fs := range statuses {
		groups := make([]groupView, len(fs.Groups))
		for j, g := range fs.Groups {
			groups[j] = groupView{
				Group:   g.GroupName,
				State:   g.State.String(),
				Count:   g.Count,
				LibPath: g.LibPath,
			}
		}
		views[i] = funcView{Func: fs.FuncName, Groups: groups}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(views)
}

// healthView matches the teacher's handleHealth response shape
// ({"status": "ok", ...}), extended with an audit-store ping so a
// degraded audit backend is visible without consulting /status.
type healthView struct {
	Status string `json:"status"`
	Audit  string `json:"audit"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	auditStatus := "ok"
	if err := s.reg.Audit().Ping(ctx); err != nil {
		auditStatus = err.Error()
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(healthView{Status: "ok", Audit: auditStatus})
}
