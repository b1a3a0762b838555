// Package httpapi is the local bridge the board UI talks to. It exposes the
// session and the cached board over plain JSON endpoints so the frontend never
// holds tokens or talks to the remote API directly.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ent0n29/boardsync/internal/api"
	"github.com/ent0n29/boardsync/internal/board"
	"github.com/ent0n29/boardsync/internal/config"
	"github.com/ent0n29/boardsync/internal/observability"
	"github.com/ent0n29/boardsync/internal/session"
)

type Server struct {
	cfg     config.Config
	session *session.Manager
	board   *board.Cache
	metrics *observability.Metrics
}

func New(cfg config.Config, sessions *session.Manager, cache *board.Cache, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:     cfg,
		session: sessions,
		board:   cache,
		metrics: metrics,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/auth/login", s.handleLogin)
	r.Post("/v1/auth/signup", s.handleSignup)
	r.Post("/v1/auth/logout", s.handleLogout)
	r.Get("/v1/session", s.handleSession)

	r.Get("/v1/board", s.handleBoard)
	r.Post("/v1/tasks", s.handleCreateTask)
	r.Put("/v1/tasks/{id}", s.handleUpdateTask)
	r.Post("/v1/tasks/{id}/status", s.handleMoveTask)
	r.Delete("/v1/tasks/{id}", s.handleDeleteTask)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"state":  string(s.session.State()),
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req api.Credentials
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	req.EmailOrUsername = strings.TrimSpace(req.EmailOrUsername)
	if req.EmailOrUsername == "" || req.Password == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "emailOrUsername and password are required")
		return
	}

	user, err := s.session.Login(r.Context(), req)
	if err != nil {
		respondAPIError(w, "login_failed", err)
		return
	}
	respondJSON(w, http.StatusOK, sessionResponse{State: string(s.session.State()), User: &user})
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req api.SignupRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)
	if req.Username == "" || req.Email == "" || req.Password == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "username, email and password are required")
		return
	}

	user, err := s.session.Register(r.Context(), req)
	if err != nil {
		respondAPIError(w, "signup_failed", err)
		return
	}
	respondJSON(w, http.StatusCreated, sessionResponse{State: string(s.session.State()), User: &user})
}

func (s *Server) handleLogout(w http.ResponseWriter, _ *http.Request) {
	s.session.Logout()
	respondJSON(w, http.StatusOK, sessionResponse{State: string(s.session.State())})
}

func (s *Server) handleSession(w http.ResponseWriter, _ *http.Request) {
	resp := sessionResponse{State: string(s.session.State())}
	if user, ok := s.session.CurrentUser(); ok {
		resp.User = &user
	}
	if exp, ok := s.session.TokenExpiry(); ok {
		resp.TokenExpiresAt = &exp
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleBoard(w http.ResponseWriter, _ *http.Request) {
	if !s.requireSession(w) {
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"tasks": s.board.Tasks(),
		"users": s.board.Users(),
	})
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	if !s.requireSession(w) {
		return
	}
	var req api.CreateTaskRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "title is required")
		return
	}

	task, err := s.board.CreateTask(r.Context(), req)
	if err != nil {
		respondAPIError(w, "task_create_failed", err)
		return
	}
	respondJSON(w, http.StatusCreated, task)
}

func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	if !s.requireSession(w) {
		return
	}
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "invalid_task_id", "missing task id")
		return
	}
	var req api.UpdateTaskRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	task, err := s.board.UpdateTask(r.Context(), id, req)
	if err != nil {
		respondAPIError(w, "task_update_failed", err)
		return
	}
	respondJSON(w, http.StatusOK, task)
}

type moveTaskRequest struct {
	Status string `json:"status"`
}

func (s *Server) handleMoveTask(w http.ResponseWriter, r *http.Request) {
	if !s.requireSession(w) {
		return
	}
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "invalid_task_id", "missing task id")
		return
	}
	var req moveTaskRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	status := api.Status(strings.TrimSpace(req.Status))
	switch status {
	case api.StatusToDo, api.StatusInProgress, api.StatusDone:
	default:
		respondError(w, http.StatusBadRequest, "invalid_request", "status must be one of To Do, In Progress, Done")
		return
	}

	task, err := s.board.MoveTask(r.Context(), id, status)
	if err != nil {
		respondAPIError(w, "task_move_failed", err)
		return
	}
	respondJSON(w, http.StatusOK, task)
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	if !s.requireSession(w) {
		return
	}
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "invalid_task_id", "missing task id")
		return
	}
	if err := s.board.DeleteTask(r.Context(), id); err != nil {
		respondAPIError(w, "task_delete_failed", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"deleted": id})
}

func (s *Server) requireSession(w http.ResponseWriter) bool {
	if s.session.State() != session.StateAuthenticated {
		respondError(w, http.StatusUnauthorized, "not_authenticated", "sign in first")
		return false
	}
	return true
}

type sessionResponse struct {
	State          string     `json:"state"`
	User           *api.User  `json:"user,omitempty"`
	TokenExpiresAt *time.Time `json:"tokenExpiresAt,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

// respondAPIError passes a remote API failure through with its original status
// so the UI can distinguish 401, 404 and validation errors.
func respondAPIError(w http.ResponseWriter, code string, err error) {
	var apiErr *api.Error
	if errors.As(err, &apiErr) {
		respondError(w, apiErr.Status, code, apiErr.Message)
		return
	}
	respondError(w, http.StatusBadGateway, code, err.Error())
}
