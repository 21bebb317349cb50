package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"sharpscale/internal/pipeline"
	"sharpscale/internal/storage"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

const defaultRunLimit = 20

// ResultSource streams per-file results.
type ResultSource interface {
	Subscribe() (<-chan pipeline.Result, func())
}

// ResultMessage is the websocket payload for one processed file.
type ResultMessage struct {
	Job        string `json:"job"`
	RunID      string `json:"run_id"`
	Input      string `json:"input"`
	Output     string `json:"output,omitempty"`
	Stage      string `json:"stage,omitempty"`
	Error      string `json:"error,omitempty"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	DurationMS int64  `json:"duration_ms"`
}

// NewResultMessage converts a pipeline result for the wire.
func NewResultMessage(res pipeline.Result) ResultMessage {
	msg := ResultMessage{
		Job:        res.Job.ID,
		RunID:      res.Job.RunID,
		Input:      res.Job.InputPath,
		Stage:      res.Stage,
		Width:      res.Width,
		Height:     res.Height,
		DurationMS: res.Duration.Milliseconds(),
	}
	if res.Error != nil {
		msg.Error = res.Error.Error()
	} else {
		msg.Output = res.Job.Output
	}
	return msg
}

// Server exposes run history over HTTP and streams results over a websocket.
type Server struct {
	addr     string
	store    *storage.Store
	results  ResultSource
	log      *slog.Logger
	hub      *hub
	upgrader websocket.Upgrader
	server   *http.Server
	bgOnce   sync.Once
}

// New creates a Server. store and results may be nil.
func New(addr string, store *storage.Store, results ResultSource, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		addr:    addr,
		store:   store,
		results: results,
		log:     log,
		hub:     newHub(log),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.startBackground(ctx)

	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.log.Info("shutting down http server")
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(ctxShutdown)
	}()

	s.log.Info("http server starting", "addr", s.addr)
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// startBackground runs the websocket hub and the result forwarder.
func (s *Server) startBackground(ctx context.Context) {
	s.bgOnce.Do(func() {
		go s.hub.run(ctx)
		if s.results == nil {
			return
		}
		resCh, unsubscribe := s.results.Subscribe()
		go func() {
			defer unsubscribe()
			for {
				select {
				case <-ctx.Done():
					return
				case res, ok := <-resCh:
					if !ok {
						return
					}
					payload, err := json.Marshal(NewResultMessage(res))
					if err != nil {
						s.log.Warn("failed to encode result", "job", res.Job.ID, "error", err)
						continue
					}
					s.hub.publish(payload)
				}
			}
		}()
	})
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	r.HandleFunc("/api/runs", s.handleRuns).Methods("GET")
	r.HandleFunc("/api/runs/{id}", s.handleRun).Methods("GET")
	r.HandleFunc("/api/runs/{id}/files", s.handleRunFiles).Methods("GET")
	r.HandleFunc("/ws", s.handleWebSocket).Methods("GET")
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	limit := defaultRunLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}
	recs, err := s.store.RecentRuns(limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if recs == nil {
		recs = []storage.RunRecord{}
	}
	writeJSON(w, recs)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	rec, err := s.store.Run(mux.Vars(r)["id"])
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, rec)
}

func (s *Server) handleRunFiles(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	id := mux.Vars(r)["id"]
	if _, err := s.store.Run(id); errors.Is(err, storage.ErrNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	recs, err := s.store.RunFiles(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if recs == nil {
		recs = []storage.FileRecord{}
	}
	writeJSON(w, recs)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	if !s.hub.add(conn) {
		conn.Close()
		return
	}
	defer s.hub.remove(conn)

	// Clients only listen; reading detects disconnects.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) requireStore(w http.ResponseWriter) bool {
	if s.store == nil {
		http.Error(w, "run history is disabled", http.StatusServiceUnavailable)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
