package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"copysensei/internal/servicetoken"
	"copysensei/internal/util"
	"copysensei/pkg/functions"
	"copysensei/services/copygen/internal/app"
)

const maxBodyBytes = 4 << 20

// Server exposes the generate-copy function over HTTP.
type Server struct {
	app      *app.App
	verifier *servicetoken.Verifier
	mux      *http.ServeMux
}

// New constructs the server. A nil verifier disables service token checks.
func New(a *app.App, verifier *servicetoken.Verifier) *Server {
	s := &Server{app: a, verifier: verifier, mux: http.NewServeMux()}
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.Handle("/generate-copy", s.verifier.Middleware(http.HandlerFunc(s.handleGenerate)))
	return s
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("copygen", s.mux))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req functions.CopyRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	logger := util.LoggerFromContext(r.Context())
	logger.Info("generating copy", "messages", len(req.Messages), "has_research", req.Context.ResearchData != "")
	reply, err := s.app.Generate(r.Context(), req)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"generatedCopy": reply})
	case errors.Is(err, app.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		logger.Error("copy generation failed", "err", err)
		writeError(w, http.StatusBadGateway, "copy generation failed")
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
