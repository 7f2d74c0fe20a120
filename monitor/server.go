// Package monitor serves the latest printer state over HTTP and pushes
// changes to WebSocket clients.
package monitor

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/john/beeprint/files"
	"github.com/john/beeprint/history"
	"github.com/john/beeprint/printer"
)

// Server is the status HTTP/WebSocket server.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	state      *printer.State
	history    *history.Manager // may be nil
	files      *files.Manager   // may be nil
	hub        *Hub
}

// NewServer creates a status server listening on addr. hist and fm may be
// nil; their routes then answer 404. Changes to hist are pushed to
// WebSocket clients as notify_history_changed.
func NewServer(addr string, st *printer.State, hist *history.Manager, fm *files.Manager) *Server {
	s := &Server{
		router:  mux.NewRouter(),
		state:   st,
		history: hist,
		files:   fm,
	}
	s.hub = NewHub(s)
	if hist != nil {
		hist.SetCallback(s.HistoryChanged)
	}
	s.registerRoutes()
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *Hub { return s.hub }

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) registerRoutes() {
	s.router.Use(corsMiddleware)

	s.router.HandleFunc("/", s.handleRoot).Methods(http.MethodGet)
	s.router.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	s.router.HandleFunc("/history", s.handleHistoryList).Methods(http.MethodGet)
	s.router.HandleFunc("/history/totals", s.handleHistoryTotals).Methods(http.MethodGet)
	s.router.HandleFunc("/history/{id}", s.handleHistoryJob).Methods(http.MethodGet)
	s.router.HandleFunc("/files", s.handleFiles).Methods(http.MethodGet)
	s.router.HandleFunc("/ws", s.hub.HandleWebSocket)
}

// Publish stores a sample and pushes the resulting state to clients.
func (s *Server) Publish(sess *printer.Session, sample printer.StatusSample) {
	s.state.Update(sess, sample)
	s.hub.BroadcastStatusUpdate(s.state.Snapshot())
}

// HistoryChanged is a history.ChangedCallback forwarding to clients.
func (s *Server) HistoryChanged(action history.ChangedAction, job history.Job) {
	s.hub.BroadcastNotification("notify_history_changed", []interface{}{
		map[string]interface{}{
			"action": action,
			"job":    job,
		},
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{
		"result": "beeprint status server",
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{
		"result": s.state.Snapshot(),
	})
}

func (s *Server) handleHistoryList(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotFound, "history disabled")
		return
	}
	q := r.URL.Query()
	start, _ := strconv.Atoi(q.Get("start"))
	limit, err := strconv.Atoi(q.Get("limit"))
	if err != nil {
		limit = 50
	}

	jobs, total := s.history.ListJobs(start, limit, q.Get("order"))
	writeJSON(w, map[string]interface{}{
		"result": map[string]interface{}{
			"count": total,
			"jobs":  jobs,
		},
	})
}

func (s *Server) handleHistoryTotals(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotFound, "history disabled")
		return
	}
	writeJSON(w, map[string]interface{}{
		"result": map[string]interface{}{
			"job_totals": s.history.GetTotals(),
		},
	})
}

func (s *Server) handleHistoryJob(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotFound, "history disabled")
		return
	}
	id := mux.Vars(r)["id"]
	job, ok := s.history.GetJob(id)
	if !ok {
		writeError(w, http.StatusNotFound, "job not found: "+id)
		return
	}
	writeJSON(w, map[string]interface{}{
		"result": map[string]interface{}{"job": job},
	})
}

func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	if s.files == nil {
		writeError(w, http.StatusNotFound, "no G-code directory configured")
		return
	}
	list, err := s.files.List(r.URL.Query().Get("meta") == "true")
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, map[string]interface{}{
		"result": map[string]interface{}{
			"files":      list,
			"disk_usage": s.files.Usage(),
		},
	})
}

// Start begins serving HTTP requests. It returns http.ErrServerClosed
// after Shutdown.
func (s *Server) Start() error {
	log.Info().Str("addr", s.httpServer.Addr).Msg("Status server starting")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.closeAll()
	return s.httpServer.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("Writing response failed")
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]interface{}{
			"code":    code,
			"message": msg,
		},
	})
}

// corsMiddleware adds CORS headers for browser dashboards.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
