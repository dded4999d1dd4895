package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"dispatch-ai/internal/domain"
)

const (
	// maxRequestBody caps JSON request bodies.
	maxRequestBody = 1 << 20 // 1 MB

	// maxBatchPrompts caps the prompts accepted by one batch request.
	maxBatchPrompts = 100
)

type generateRequest struct {
	Prompt  string `json:"prompt"`
	TaskTag string `json:"task_tag"`
}

type batchRequest struct {
	Prompts []string `json:"prompts"`
	TaskTag string   `json:"task_tag"`
}

type batchResponse struct {
	Results []domain.GenerationResult `json:"results"`
}

type modelsResponse struct {
	Bot    string                   `json:"bot"`
	Models []domain.ModelDescriptor `json:"models"`
}

type healthResponse struct {
	Status           string     `json:"status"`
	ControlReachable *bool      `json:"control_reachable"`
	CheckedAt        *time.Time `json:"checked_at,omitempty"`
}

type errorResponse struct {
	Error string           `json:"error"`
	Code  domain.ErrorCode `json:"code"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	bot := r.PathValue("bot")

	var req generateRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	res, err := s.deps.Generator.GenerateForBot(r.Context(), bot, req.Prompt, req.TaskTag)
	if err != nil {
		s.logFailure(r, bot, err)
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	bot := r.PathValue("bot")

	var req batchRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if len(req.Prompts) > maxBatchPrompts {
		err := domain.NewDomainError("httpapi.batch", domain.ErrInvalidInput,
			fmt.Sprintf("at most %d prompts per batch, got %d", maxBatchPrompts, len(req.Prompts)))
		writeError(w, http.StatusBadRequest, err)
		return
	}

	results, err := s.deps.Batch.GenerateBatch(r.Context(), bot, req.Prompts, req.TaskTag)
	if err != nil {
		s.logFailure(r, bot, err)
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, batchResponse{Results: results})
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	bot := r.PathValue("bot")
	writeJSON(w, http.StatusOK, modelsResponse{
		Bot:    bot,
		Models: s.deps.Catalog.ListFor(bot),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}
	if s.deps.Health != nil {
		if st := s.deps.Health.Status(); st.Checked {
			reachable := st.Reachable
			checkedAt := st.CheckedAt
			resp.ControlReachable = &reachable
			resp.CheckedAt = &checkedAt
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) logFailure(r *http.Request, bot string, err error) {
	s.logger.WarnContext(r.Context(), "generation request failed",
		"bot", bot,
		"path", r.URL.Path,
		"code", string(domain.ErrorCodeOf(err)),
		"error", err,
	)
}

// decodeBody reads a single JSON object, rejecting unknown fields.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return domain.NewDomainError("httpapi.decode", domain.ErrInvalidInput, err.Error())
	}
	return nil
}

// statusFor maps gateway errors to HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrAuthInvalid):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrCandidatesExhausted):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error(), Code: domain.ErrorCodeOf(err)})
}
