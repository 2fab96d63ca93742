package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"copysensei/internal/usertoken"
	"copysensei/internal/util"
	"copysensei/pkg/domain"
	"copysensei/services/chat/internal/app"
)

const (
	maxJSONBody       = 1 << 20
	defaultMaxUpload  = 10 << 20
	sendRateLimitKey  = "send"
	sendRateLimitHint = "too many messages, slow down"
)

// IdentityVerifier validates a bearer token and returns the caller.
type IdentityVerifier interface {
	Verify(token string) (usertoken.Identity, error)
}

// Limiter admits or rejects one request for a key.
type Limiter interface {
	Allow(key string) bool
}

// Config wires required dependencies for the HTTP server.
type Config struct {
	App            *app.App
	TokenVerifier  IdentityVerifier
	SendLimiter    Limiter
	AllowedOrigins []string
	TrustedProxies *util.TrustedProxies
	MaxUploadBytes int64
}

// Server exposes HTTP endpoints for the chat service.
type Server struct {
	app            *app.App
	tokenVerifier  IdentityVerifier
	sendLimiter    Limiter
	allowedOrigins []string
	trustedProxies *util.TrustedProxies
	maxUploadBytes int64
	mux            *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	maxUpload := cfg.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = defaultMaxUpload
	}
	s := &Server{
		app:            cfg.App,
		tokenVerifier:  cfg.TokenVerifier,
		sendLimiter:    cfg.SendLimiter,
		allowedOrigins: cfg.AllowedOrigins,
		trustedProxies: cfg.TrustedProxies,
		maxUploadBytes: maxUpload,
		mux:            http.NewServeMux(),
	}
	s.routes()
	return s
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("chat", util.WithSecurityHeaders(util.WithCORS(s.allowedOrigins, s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	s.mux.Handle("/api/me", s.withUser(s.handleMe))
	s.mux.Handle("/api/projects", s.withUser(s.handleProjects))
	s.mux.Handle("/api/projects/", s.withUser(s.handleProjectByID))
	s.mux.Handle("/api/research/jobs/", s.withUser(s.handleResearchJob))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type userHandler func(http.ResponseWriter, *http.Request, domain.User)

// withUser verifies the bearer token, provisions the profile on first sight
// and attaches the user id to the request logger.
func (s *Server) withUser(next userHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.tokenVerifier == nil {
			writeError(w, http.StatusInternalServerError, "token verifier not configured")
			return
		}
		token, ok := bearerToken(r)
		if !ok {
			s.audit(r, "chat.authorize", "fail", "reason", "missing_token")
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		id, err := s.tokenVerifier.Verify(token)
		if err != nil {
			s.audit(r, "chat.authorize", "fail", "reason", "invalid_token")
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		user, err := s.app.EnsureUser(app.Identity{UserID: id.Subject, Email: id.Email})
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		logger := util.LoggerFromContext(r.Context()).With("user_id", user.ID)
		next(w, r.WithContext(util.ContextWithLogger(r.Context(), logger)), user)
	})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	resp := map[string]any{"user": user}
	if current, ok, err := s.app.CurrentProject(user.ID); err == nil && ok {
		resp["currentProjectId"] = current.ID
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleProjects(w http.ResponseWriter, r *http.Request, user domain.User) {
	switch r.Method {
	case http.MethodGet:
		projects, err := s.app.ListProjects(user.ID)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"items": projects,
			"count": len(projects),
		})
	case http.MethodPost:
		var req createProjectRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		project, err := s.app.CreateProject(r.Context(), user.ID, req.Name, req.WebsiteURL, req.ToneOfVoice)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, project)
	default:
		methodNotAllowed(w)
	}
}

// /api/projects/{id}[/select|/documents[/{docID}[/download]]|/messages|/research]
func (s *Server) handleProjectByID(w http.ResponseWriter, r *http.Request, user domain.User) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/projects/"), "/")
	parts := strings.Split(path, "/")
	id := parts[0]
	if id == "" {
		http.NotFound(w, r)
		return
	}
	if id == "current" && len(parts) == 1 {
		s.handleCurrentProject(w, r, user)
		return
	}

	switch {
	case len(parts) == 1:
		s.handleProject(w, r, user, id)
	case len(parts) == 2 && parts[1] == "select":
		s.handleSelectProject(w, r, user, id)
	case len(parts) == 2 && parts[1] == "messages":
		s.handleMessages(w, r, user, id)
	case len(parts) == 2 && parts[1] == "research":
		s.handleResearch(w, r, user, id)
	case len(parts) == 2 && parts[1] == "documents":
		s.handleDocuments(w, r, user, id)
	case len(parts) == 3 && parts[1] == "documents":
		s.handleDocument(w, r, user, id, parts[2])
	case len(parts) == 4 && parts[1] == "documents" && parts[3] == "download":
		s.handleDownloadDocument(w, r, user, id, parts[2])
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleCurrentProject(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	project, ok, err := s.app.CurrentProject(user.ID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "no project selected")
		return
	}
	writeJSON(w, http.StatusOK, project)
}

func (s *Server) handleProject(w http.ResponseWriter, r *http.Request, user domain.User, id string) {
	switch r.Method {
	case http.MethodGet:
		project, err := s.app.GetProject(user.ID, id)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, project)
	case http.MethodPatch:
		var upd domain.ProjectUpdate
		if !decodeJSON(w, r, &upd) {
			return
		}
		project, err := s.app.UpdateProject(r.Context(), user.ID, id, upd)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, project)
	case http.MethodDelete:
		if err := s.app.DeleteProject(r.Context(), user.ID, id); err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleSelectProject(w http.ResponseWriter, r *http.Request, user domain.User, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	project, err := s.app.SelectProject(user.ID, id)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, project)
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request, user domain.User, projectID string) {
	switch r.Method {
	case http.MethodGet:
		msgs, err := s.app.ListMessages(user.ID, projectID)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"items": msgs,
			"count": len(msgs),
		})
	case http.MethodPost:
		if s.sendLimiter != nil && !s.sendLimiter.Allow(sendRateLimitKey+":"+user.ID) {
			s.audit(r, "chat.send", "fail", "reason", "rate_limited", "user_id", user.ID)
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, sendRateLimitHint)
			return
		}
		var req sendMessageRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		res, err := s.app.SendMessage(r.Context(), user.ID, projectID, req.Content)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleResearch(w http.ResponseWriter, r *http.Request, user domain.User, projectID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async {
		job, err := s.app.EnqueueResearch(r.Context(), user.ID, projectID)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusAccepted, job)
		return
	}
	project, err := s.app.RefreshResearch(r.Context(), user.ID, projectID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, project)
}

func (s *Server) handleResearchJob(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	jobID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/research/jobs/"), "/")
	if jobID == "" || strings.Contains(jobID, "/") {
		http.NotFound(w, r)
		return
	}
	job, err := s.app.ResearchJob(r.Context(), user.ID, jobID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request, user domain.User, projectID string) {
	switch r.Method {
	case http.MethodGet:
		docs, err := s.app.ListDocuments(user.ID, projectID)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"items": docs,
			"count": len(docs),
		})
	case http.MethodPost:
		if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
			s.handleUploadDocument(w, r, user, projectID)
			return
		}
		var req addDocumentRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		doc, err := s.app.AddDocument(r.Context(), user.ID, projectID, req.Filename, req.Content)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, doc)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleUploadDocument(w http.ResponseWriter, r *http.Request, user domain.User, projectID string) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes+(1<<20))
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required (field: file)")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, s.maxUploadBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read file")
		return
	}
	if int64(len(data)) > s.maxUploadBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "file too large")
		return
	}
	doc, err := s.app.UploadDocument(r.Context(), user.ID, projectID, header.Filename, data)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

func (s *Server) handleDocument(w http.ResponseWriter, r *http.Request, user domain.User, projectID, docID string) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w)
		return
	}
	if err := s.app.DeleteDocument(r.Context(), user.ID, projectID, docID); err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// handleDownloadDocument returns a pre-signed download URL for an archived document.
func (s *Server) handleDownloadDocument(w http.ResponseWriter, r *http.Request, user domain.User, projectID, docID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	link, err := s.app.DocumentDownloadURL(r.Context(), user.ID, projectID, docID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": link})
}

type createProjectRequest struct {
	Name        string `json:"name"`
	WebsiteURL  string `json:"websiteUrl"`
	ToneOfVoice string `json:"toneOfVoice"`
}

type sendMessageRequest struct {
	Content string `json:"content"`
}

type addDocumentRequest struct {
	Filename string `json:"filename"`
	Content  string `json:"content"`
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody)).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// writeAppError maps application errors onto HTTP statuses.
func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *app.ValidationError
	var lowValue *app.LowValueError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, verr.Message)
	case errors.Is(err, app.ErrEmptyMessage):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &lowValue):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"error":    "low-value chat",
			"advisory": lowValue.Advisory,
		})
	case errors.Is(err, app.ErrInsufficientCredits):
		writeError(w, http.StatusPaymentRequired, err.Error())
	case errors.Is(err, app.ErrProjectForbidden):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, app.ErrUserNotFound),
		errors.Is(err, app.ErrProjectNotFound),
		errors.Is(err, app.ErrDocumentNotFound),
		errors.Is(err, app.ErrJobNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, app.ErrSessionBusy):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, app.ErrGenerationFailed):
		writeError(w, http.StatusBadGateway, app.ErrGenerationFailed.Error())
	case errors.Is(err, app.ErrResearchFailed):
		writeError(w, http.StatusBadGateway, app.ErrResearchFailed.Error())
	case errors.Is(err, app.ErrQueueDisabled), errors.Is(err, app.ErrStorageDisabled):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		util.LoggerFromContext(r.Context()).Error("request failed", "path", r.URL.Path, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"client_ip", util.ClientIP(r, s.trustedProxies),
	}
	logAttrs = append(logAttrs, attrs...)
	slog.Warn("security_event", logAttrs...)
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}
