// File: internal/server/handlers.go
package server

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5/middleware"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/petitionfetch/internal/diagnostics"
	"github.com/xkilldash9x/petitionfetch/internal/retrieval"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// errorResponse is the body of every failed request.
type errorResponse struct {
	Error       string                 `json:"error"`
	Message     string                 `json:"message"`
	Blocker     string                 `json:"blocker,omitempty"`
	RetrievalID string                 `json:"retrieval_id,omitempty"`
	Step        string                 `json:"step,omitempty"`
	Artifacts   []diagnostics.Artifact `json:"artifacts,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request) {
	caseNumber := r.FormValue("case_number")
	if caseNumber == "" {
		caseNumber = r.FormValue("caseNumber")
	}
	if err := retrieval.ValidateCaseNumber(caseNumber); err != nil {
		s.respondWithError(w, http.StatusBadRequest, string(retrieval.KindInvalidInput), err.Error())
		return
	}

	logger := s.logger.With(
		zap.String("request_id", middleware.GetReqID(r.Context())),
		zap.String("case_number", caseNumber),
	)
	logger.Info("Capture requested.")

	res := s.retriever.Retrieve(r.Context(), caseNumber, s.cred)
	if s.recorder != nil {
		if err := s.recorder.Save(r.Context(), res); err != nil {
			logger.Warn("Could not record retrieval.", zap.Error(err))
		}
	}

	if !res.OK() {
		logger.Warn("Capture failed.", zap.String("retrieval_id", res.ID), zap.Error(res.Failure))
		s.respondWithFailure(w, res)
		return
	}

	f, err := os.Open(res.FilePath)
	if err != nil {
		logger.Error("Retrieved file vanished before it could be served.", zap.String("path", res.FilePath), zap.Error(err))
		s.respondWithError(w, http.StatusInternalServerError, "internal_error", "retrieved document is unavailable")
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		s.respondWithError(w, http.StatusInternalServerError, "internal_error", "retrieved document is unavailable")
		return
	}

	name := filepath.Base(res.FilePath)
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	w.Header().Set("X-Retrieval-ID", res.ID)
	http.ServeContent(w, r, name, info.ModTime(), f)
}

func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	if s.recorder == nil {
		s.respondWithError(w, http.StatusServiceUnavailable, "unavailable", "audit database is not configured")
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			s.respondWithError(w, http.StatusBadRequest, string(retrieval.KindInvalidInput), "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	records, err := s.recorder.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("Failed to list retrievals.", zap.Error(err))
		s.respondWithError(w, http.StatusInternalServerError, "internal_error", "could not list retrievals")
		return
	}
	s.respondWithJSON(w, http.StatusOK, records)
}

// StatusFor maps a failure kind to its HTTP status.
func StatusFor(kind retrieval.Kind) int {
	switch kind {
	case retrieval.KindInvalidInput:
		return http.StatusBadRequest
	case retrieval.KindInteraction, "":
		return http.StatusInternalServerError
	case retrieval.KindAuth, retrieval.KindNavigation, retrieval.KindBlocked,
		retrieval.KindLayoutChanged, retrieval.KindDownload:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondWithFailure(w http.ResponseWriter, res retrieval.Result) {
	body := errorResponse{Error: "internal_error", Message: "retrieval failed", RetrievalID: res.ID}
	var rerr *retrieval.Error
	if errors.As(res.Err(), &rerr) {
		body.Error = string(rerr.Kind)
		body.Message = rerr.Message
		body.Blocker = string(rerr.Blocker)
		body.Step = string(rerr.Step)
		body.Artifacts = rerr.Artifacts
		if body.Error == "" {
			body.Error = "internal_error"
		}
	}
	s.respondWithJSON(w, StatusFor(retrieval.Kind(body.Error)), body)
}

func (s *Server) respondWithError(w http.ResponseWriter, status int, kind, message string) {
	s.respondWithJSON(w, status, errorResponse{Error: kind, Message: message})
}

func (s *Server) respondWithJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("Failed to encode response.", zap.Error(err))
	}
}
