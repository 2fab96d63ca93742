package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"copysensei/internal/servicetoken"
	"copysensei/internal/util"
	"copysensei/pkg/functions"
	"copysensei/services/research/internal/app"
)

const maxBodyBytes = 64 << 10

// Server exposes the fetch-research function over HTTP.
type Server struct {
	app *app.App
	mux *http.ServeMux
}

// New constructs the server. A nil verifier disables service token checks.
func New(a *app.App, verifier *servicetoken.Verifier) *Server {
	s := &Server{app: a, mux: http.NewServeMux()}
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	s.mux.Handle("/fetch-research", verifier.Middleware(http.HandlerFunc(s.handleResearch)))
	return s
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("research", s.mux))
}

func (s *Server) handleResearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req functions.ResearchRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	logger := util.LoggerFromContext(r.Context())
	logger.Info("fetching research", "website", req.WebsiteURL)
	data, err := s.app.Research(r.Context(), req)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"researchData": data})
	case errors.Is(err, app.ErrInvalidURL):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		logger.Error("research failed", "err", err)
		writeError(w, http.StatusBadGateway, "research failed")
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
