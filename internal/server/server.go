package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"photobooth/internal/config"
	"photobooth/internal/overlay"
	"photobooth/internal/pipeline"
	"photobooth/internal/storage"
	"photobooth/internal/templates"
)

// Server exposes the compositing engine to the kiosk front end over HTTP.
type Server struct {
	addr     string
	store    *storage.Store
	pipeline pipeline.Runner
	registry *templates.Registry
	blender  *overlay.Blender
	preview  config.Preview
	log      *slog.Logger
	server   *http.Server
	upgrader websocket.Upgrader
}

// Deps are the components the server fronts.
type Deps struct {
	Store    *storage.Store
	Pipeline pipeline.Runner
	Registry *templates.Registry
	Blender  *overlay.Blender
	Preview  config.Preview
}

// NewServer creates a server listening on addr once started.
func NewServer(addr string, deps Deps, log *slog.Logger) *Server {
	return &Server{
		addr:     addr,
		store:    deps.Store,
		pipeline: deps.Pipeline,
		registry: deps.Registry,
		blender:  deps.Blender,
		preview:  deps.Preview,
		log:      log,
		upgrader: websocket.Upgrader{
			// the kiosk UI is served from a different origin in development
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handler returns the routed handler without starting a listener.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	s.setupRoutes(r)
	return r
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.log.Info("Shutting down server...")

		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(ctxShutdown)
	}()

	s.log.Info("Server starting", "addr", s.addr)
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) setupRoutes(r *mux.Router) {
	r.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	r.HandleFunc("/templates", s.handleTemplates).Methods("GET")
	r.HandleFunc("/templates/reload", s.handleTemplatesReload).Methods("POST")
	r.HandleFunc("/jobs", s.handleJobs).Methods("GET")
	r.HandleFunc("/stream", s.handleJobStream).Methods("GET")
	r.HandleFunc("/composites", s.handleCompositesList).Methods("GET")
	r.HandleFunc("/composites", s.handleCompositeSubmit).Methods("POST")
	r.HandleFunc("/overlay", s.handleOverlaySelect).Methods("POST")
	r.HandleFunc("/preview", s.handlePreview).Methods("GET")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleTemplates(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.List())
}

func (s *Server) handleTemplatesReload(w http.ResponseWriter, r *http.Request) {
	err := s.registry.Reload()
	resp := map[string]any{"count": len(s.registry.List())}
	if err != nil {
		resp["error"] = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	recs, err := s.store.RecentJobs(100)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

// resultView is the wire form of a pipeline result.
type resultView struct {
	ID    string         `json:"id"`
	Type  string         `json:"type"`
	Error string         `json:"error,omitempty"`
	Meta  map[string]any `json:"meta,omitempty"`
}

func viewOf(res pipeline.Result) resultView {
	v := resultView{ID: res.Job.ID, Type: string(res.Job.Type), Meta: res.Meta}
	if res.Error != nil {
		v.Error = res.Error.Error()
	}
	return v
}

func (s *Server) handleJobStream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	resCh, unsubscribe := s.pipeline.Subscribe()
	defer unsubscribe()
	flusher.Flush()
	for {
		select {
		case <-r.Context().Done():
			return
		case res, ok := <-resCh:
			if !ok {
				return
			}
			payload, _ := json.Marshal(viewOf(res))
			_, _ = w.Write([]byte("data: " + string(payload) + "\n\n"))
			flusher.Flush()
		}
	}
}

func (s *Server) handleCompositesList(w http.ResponseWriter, r *http.Request) {
	recs, err := s.store.RecentComposites(100)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

// composeRequest asks for a composite, a preview strip or all templates.
type composeRequest struct {
	Kind     string   `json:"kind"` // composite (default), strip, all
	Photos   []string `json:"photos"`
	Session  string   `json:"session"`
	Template string   `json:"template"`
	Output   string   `json:"output"`
	Copies   int      `json:"copies"`
	Prefix   string   `json:"prefix"`
}

func (s *Server) handleCompositeSubmit(w http.ResponseWriter, r *http.Request) {
	var req composeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request: "+err.Error(), http.StatusBadRequest)
		return
	}
	if len(req.Photos) == 0 && req.Session == "" {
		http.Error(w, "photos or session is required", http.StatusBadRequest)
		return
	}

	jobType := pipeline.JobComposite
	switch req.Kind {
	case "", "composite":
	case "strip":
		jobType = pipeline.JobStrip
	case "all":
		jobType = pipeline.JobAll
	default:
		http.Error(w, "unknown kind "+req.Kind, http.StatusBadRequest)
		return
	}
	if jobType != pipeline.JobAll {
		if _, ok := s.registry.Get(req.Template); !ok {
			http.Error(w, "unknown template "+req.Template, http.StatusNotFound)
			return
		}
	}

	opts := map[string]any{"template": req.Template}
	if len(req.Photos) > 0 {
		opts["photos"] = req.Photos
	}
	if req.Copies > 0 {
		opts["copies"] = req.Copies
	}
	if req.Prefix != "" {
		opts["prefix"] = req.Prefix
	}
	job := pipeline.Job{
		ID:        pipeline.NewID(string(jobType)),
		Type:      jobType,
		InputPath: req.Session,
		Output:    req.Output,
		Options:   opts,
	}
	if err := s.pipeline.Submit(job); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": job.ID})
}

type overlayRequest struct {
	Path     string `json:"path"`
	Template string `json:"template"`
	Clear    bool   `json:"clear"`
}

func (s *Server) handleOverlaySelect(w http.ResponseWriter, r *http.Request) {
	var req overlayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.Clear {
		s.blender.Unset()
		writeJSON(w, http.StatusOK, map[string]string{"overlay": ""})
		return
	}

	path := req.Path
	if req.Template != "" {
		d, ok := s.registry.Get(req.Template)
		if !ok {
			http.Error(w, "unknown template "+req.Template, http.StatusNotFound)
			return
		}
		path = d.AssetPath
	}
	if path == "" {
		http.Error(w, "path or template is required", http.StatusBadRequest)
		return
	}
	if err := s.blender.Load(path); err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"overlay": path})
}
