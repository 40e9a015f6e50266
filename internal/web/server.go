// Package web exposes the lesson engine over a JSON HTTP API. Learners are
// identified by the X-Learner-ID header; there is no authentication layer
// here, that belongs to the gateway in front.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tedlu-tw/learnwise-demo/internal/domain"
	"github.com/tedlu-tw/learnwise-demo/internal/evaluate"
	"github.com/tedlu-tw/learnwise-demo/internal/metrics"
	"github.com/tedlu-tw/learnwise-demo/internal/progress"
	"github.com/tedlu-tw/learnwise-demo/internal/session"
)

// defaultCategories is served when no question content has been synced yet,
// so a fresh install still renders a skill picker.
var defaultCategories = []string{"arithmetic", "algebra", "geometry", "trigonometry", "calculus"}

// Categories lists the distinct skill categories present in the content
// store.
type Categories interface {
	Categories(ctx context.Context) ([]string, error)
}

// Server holds the dependencies for the HTTP API.
type Server struct {
	sessions   *session.Orchestrator
	progress   *progress.Aggregator
	categories Categories
	metrics    *metrics.Metrics
	log        *slog.Logger
	validate   *validator.Validate
	router     *http.ServeMux
}

// NewServer creates and configures a new server. m may be nil.
func NewServer(sessions *session.Orchestrator, prog *progress.Aggregator, categories Categories, m *metrics.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		sessions:   sessions,
		progress:   prog,
		categories: categories,
		metrics:    m,
		log:        logger,
		validate:   validator.New(),
		router:     http.NewServeMux(),
	}
	s.routes()
	return s
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.router.Handle("POST /api/lessons/start", s.instrument("lessons_start", s.handleStartLesson()))
	s.router.Handle("GET /api/lessons/due-count", s.instrument("lessons_due_count", s.handleDueCount()))
	s.router.Handle("GET /api/lessons/{id}/next", s.instrument("lessons_next", s.handleNextQuestion()))
	s.router.Handle("POST /api/lessons/{id}/submit", s.instrument("lessons_submit", s.handleSubmitAnswer()))
	s.router.Handle("GET /api/progress/summary", s.instrument("progress_summary", s.handleProgressSummary()))
	s.router.Handle("GET /api/skills/categories", s.instrument("skills_categories", s.handleSkillCategories()))
	s.router.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	s.router.Handle("GET /metrics", promhttp.Handler())
}

// instrument records request counts and latency per route.
func (s *Server) instrument(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		s.metrics.HTTPRequest(route, strconv.Itoa(sw.status))
		s.metrics.ObserveHTTPDuration(route, time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

type startLessonRequest struct {
	Type     string   `json:"type" validate:"omitempty,oneof=initial review"`
	SkillIDs []string `json:"skill_ids" validate:"required,min=1,dive,required"`
}

type sessionResponse struct {
	SessionID      string   `json:"session_id"`
	Type           string   `json:"type"`
	SkillIDs       []string `json:"skill_ids"`
	TotalQuestions int      `json:"total_questions"`
	StartedAt      string   `json:"started_at"`
}

func (s *Server) handleStartLesson() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		learnerID, ok := s.learnerID(w, r)
		if !ok {
			return
		}

		var req startLessonRequest
		if !s.decode(w, r, &req) {
			return
		}
		if req.Type == "" {
			req.Type = string(domain.SessionInitial)
		}

		sess, err := s.sessions.Start(r.Context(), learnerID, domain.SessionType(req.Type), req.SkillIDs)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusCreated, sessionResponse{
			SessionID:      sess.ID,
			Type:           string(sess.Type),
			SkillIDs:       sess.SkillIDs,
			TotalQuestions: len(sess.Queue),
			StartedAt:      sess.StartedAt.Format(time.RFC3339),
		})
	}
}

// questionView is a Question with the answer key and explanation stripped.
type questionView struct {
	ID              string   `json:"id"`
	Text            string   `json:"question_text"`
	Options         []string `json:"options"`
	Type            string   `json:"type"`
	SkillCategory   string   `json:"skill_category"`
	DifficultyLevel int      `json:"difficulty_level"`
}

type nextResponse struct {
	Completed bool          `json:"completed"`
	Question  *questionView `json:"question,omitempty"`
}

func (s *Server) handleNextQuestion() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q, completed, err := s.sessions.Next(r.Context(), r.PathValue("id"))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if completed {
			s.writeJSON(w, http.StatusOK, nextResponse{Completed: true})
			return
		}
		s.writeJSON(w, http.StatusOK, nextResponse{Question: &questionView{
			ID:              q.ID,
			Text:            q.Text,
			Options:         q.Options,
			Type:            string(q.Type),
			SkillCategory:   q.SkillCategory,
			DifficultyLevel: q.DifficultyLevel,
		}})
	}
}

type submitRequest struct {
	QuestionID      string  `json:"question_id" validate:"required"`
	SelectedIndices []int   `json:"selected_indices" validate:"required,min=1"`
	ResponseTime    float64 `json:"response_time" validate:"gt=0"`
}

func (s *Server) handleSubmitAnswer() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := r.PathValue("id")

		var req submitRequest
		if !s.decode(w, r, &req) {
			return
		}

		fb, err := s.sessions.Submit(r.Context(), sessionID, req.QuestionID, domain.Submission{
			SessionID:       sessionID,
			QuestionID:      req.QuestionID,
			SelectedIndices: req.SelectedIndices,
			ResponseTime:    req.ResponseTime,
		})
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, fb)
	}
}

func (s *Server) handleProgressSummary() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		learnerID, ok := s.learnerID(w, r)
		if !ok {
			return
		}
		summary, err := s.progress.Summary(r.Context(), learnerID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, summary)
	}
}

func (s *Server) handleDueCount() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		learnerID, ok := s.learnerID(w, r)
		if !ok {
			return
		}
		var skills []string
		if raw := r.URL.Query().Get("skills"); raw != "" {
			skills = strings.Split(raw, ",")
		}
		n, err := s.progress.DueCount(r.Context(), learnerID, skills)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]int{"due": n})
	}
}

func (s *Server) handleSkillCategories() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		categories, err := s.categories.Categories(r.Context())
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if len(categories) == 0 {
			categories = defaultCategories
		}
		s.writeJSON(w, http.StatusOK, map[string][]string{"categories": categories})
	}
}

// learnerID extracts the learner identity header, rejecting the request
// when absent.
func (s *Server) learnerID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := strings.TrimSpace(r.Header.Get("X-Learner-ID"))
	if id == "" {
		s.writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "missing X-Learner-ID header"})
		return "", false
	}
	return id, true
}

// decode parses and validates a JSON request body.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request: " + err.Error()})
		return false
	}
	return true
}

type errorResponse struct {
	Error string `json:"error"`
}

// writeError maps domain errors onto HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var status int
	switch {
	case errors.Is(err, session.ErrNoContent),
		errors.Is(err, session.ErrNoActiveSession):
		status = http.StatusNotFound
	case errors.Is(err, session.ErrQuestionMismatch),
		errors.Is(err, session.ErrSessionCompleted),
		errors.Is(err, session.ErrConcurrentModification):
		status = http.StatusConflict
	case errors.Is(err, evaluate.ErrNoSelection),
		errors.Is(err, evaluate.ErrIndexOutOfRange):
		status = http.StatusBadRequest
	default:
		status = http.StatusInternalServerError
		s.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		s.writeJSON(w, status, errorResponse{Error: "internal server error"})
		return
	}
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("failed to encode response", "error", err)
	}
}
