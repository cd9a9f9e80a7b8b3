package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"

	"github.com/cbegin/chordplay-go/internal/score"
	"github.com/cbegin/chordplay-go/internal/timeline"
)

const maxBodyBytes = 1 << 20

// Controller is the transport surface the server drives.
type Controller interface {
	Play()
	Stop()
	ScoreChanged()
	SetTempo(bpm float64)
	Playing() bool
	Tempo() float64
	Position() (float64, bool)
	Timeline() *timeline.Timeline
}

// Store holds the served score. Get is suitable as the engine's score
// source.
type Store struct {
	mu sync.RWMutex
	s  *score.Score
}

func NewStore(initial *score.Score) *Store {
	if initial == nil {
		initial = &score.Score{Key: score.DefaultKey, BPM: score.DefaultBPM}
	}
	return &Store{s: initial}
}

func (st *Store) Get() *score.Score {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.s
}

func (st *Store) Set(s *score.Score) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.s = s
}

type Options struct {
	AllowedOrigins []string
	Logger         logrus.FieldLogger
}

type Server struct {
	store  *Store
	ctl    Controller
	log    logrus.FieldLogger
	router *mux.Router
	origin []string
}

func New(store *Store, ctl Controller, opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Server{
		store:  store,
		ctl:    ctl,
		log:    log.WithField("component", "server"),
		router: mux.NewRouter().StrictSlash(true),
		origin: opts.AllowedOrigins,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.HandleFunc("/score", s.handlePutScore).Methods(http.MethodPut)
	s.router.HandleFunc("/score", s.handleGetScore).Methods(http.MethodGet)
	s.router.HandleFunc("/play", s.handlePlay).Methods(http.MethodPost)
	s.router.HandleFunc("/stop", s.handleStop).Methods(http.MethodPost)
	s.router.HandleFunc("/tempo", s.handleTempo).Methods(http.MethodPut)
	s.router.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	s.router.HandleFunc("/timeline", s.handleTimeline).Methods(http.MethodGet)
	s.router.Use(s.logRequests)
}

// Handler returns the router wrapped in CORS handling.
func (s *Server) Handler() http.Handler {
	origins := s.origin
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	})
	return c.Handler(s.router)
}

// ListenAndServe serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", addr).Info("listening")
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return errors.Wrap(err, "serve")
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handlePutScore(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.fail(w, http.StatusBadRequest, errors.Wrap(err, "read body"))
		return
	}
	sc, err := score.Parse(body, score.FormatJSON)
	if err != nil {
		s.fail(w, http.StatusBadRequest, err)
		return
	}
	s.store.Set(sc)
	s.ctl.ScoreChanged()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetScore(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.store.Get())
}

func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	s.ctl.Play()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.ctl.Stop()
	w.WriteHeader(http.StatusNoContent)
}

type tempoRequest struct {
	BPM float64 `json:"bpm"`
}

func (s *Server) handleTempo(w http.ResponseWriter, r *http.Request) {
	var req tempoRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		s.fail(w, http.StatusBadRequest, errors.Wrap(err, "decode tempo"))
		return
	}
	if req.BPM < 0 {
		s.fail(w, http.StatusBadRequest, errors.Errorf("invalid bpm %v", req.BPM))
		return
	}
	s.ctl.SetTempo(req.BPM)
	w.WriteHeader(http.StatusNoContent)
}

type statusResponse struct {
	Playing    bool    `json:"playing"`
	Beat       float64 `json:"beat"`
	BPM        float64 `json:"bpm"`
	Events     int     `json:"events"`
	TotalBeats float64 `json:"totalBeats"`
	Title      string  `json:"title,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	tl := s.ctl.Timeline()
	resp := statusResponse{
		Playing:    s.ctl.Playing(),
		BPM:        s.ctl.Tempo(),
		Events:     tl.Len(),
		TotalBeats: tl.TotalBeats(),
	}
	if sc := s.store.Get(); sc != nil {
		resp.Title = sc.Title
	}
	if beat, ok := s.ctl.Position(); ok {
		resp.Beat = beat
	}
	s.writeJSON(w, resp)
}

type issueResponse struct {
	Kind    string `json:"kind"`
	Section int    `json:"section"`
	Bar     int    `json:"bar"`
	Detail  string `json:"detail"`
}

type eventResponse struct {
	Beat     float64            `json:"beat"`
	Duration float64            `json:"duration"`
	Label    string             `json:"label,omitempty"`
	Ref      timeline.SourceRef `json:"ref"`
}

type timelineResponse struct {
	Events     []eventResponse `json:"events"`
	Issues     []issueResponse `json:"issues"`
	Bars       int             `json:"bars"`
	TotalBeats float64         `json:"totalBeats"`
}

func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	tl := s.ctl.Timeline()
	resp := timelineResponse{
		Events:     make([]eventResponse, 0, tl.Len()),
		Issues:     make([]issueResponse, 0),
		Bars:       tl.Bars(),
		TotalBeats: tl.TotalBeats(),
	}
	if tl != nil {
		for _, ev := range tl.Events {
			er := eventResponse{Beat: ev.Beat(), Duration: ev.DurationBeats(), Ref: ev.Ref}
			if ev.Chord != nil {
				er.Label = ev.Chord.Label()
			}
			resp.Events = append(resp.Events, er)
		}
		for _, is := range tl.Issues {
			resp.Issues = append(resp.Issues, issueResponse{Kind: is.Kind.String(), Section: is.Section, Bar: is.Bar, Detail: is.Detail})
		}
	}
	s.writeJSON(w, resp)
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.WithError(err).Warn("encode response")
	}
}

func (s *Server) fail(w http.ResponseWriter, code int, err error) {
	s.log.WithError(err).WithField("status", code).Debug("request failed")
	http.Error(w, err.Error(), code)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"duration": time.Since(start),
		}).Debug("request")
	})
}
