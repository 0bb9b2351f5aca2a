package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/cutekitek/rankode-grader/internal/mappers"
	"github.com/cutekitek/rankode-grader/internal/repository/dto"
	"github.com/cutekitek/rankode-grader/internal/runner/lang"
	"github.com/cutekitek/rankode-grader/pkg/timeout"
)

func (s *Server) Run(w http.ResponseWriter, r *http.Request) {
	var req dto.RunRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		s.logger.Debug("invalid run request", "error", err)
		responseError(w, http.StatusBadRequest, "invalid request body: "+err.Error(), "configuration_error")
		return
	}

	res, err := s.service.Submit(r.Context(), &req)
	if err != nil {
		resp := mappers.ErrorToResponse(err)
		status := statusFor(resp.Kind)
		if status >= http.StatusInternalServerError {
			s.logger.Error("run failed", "kind", resp.Kind, "error", err)
		}
		responseWithJSON(w, status, resp)
		return
	}
	responseWithJSON(w, http.StatusOK, res)
}

func statusFor(kind string) int {
	switch kind {
	case "configuration_error":
		return http.StatusBadRequest
	case "pool_saturated":
		return http.StatusServiceUnavailable
	case "timeout":
		return http.StatusGatewayTimeout
	case "internal_error":
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Plagiarism is a placeholder that always reports no evidence.
func (s *Server) Plagiarism(w http.ResponseWriter, r *http.Request) {
	var req dto.PlagiarismRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		responseError(w, http.StatusBadRequest, "invalid request body: "+err.Error(), "configuration_error")
		return
	}
	responseWithJSON(w, http.StatusOK, &dto.PlagiarismResponse{Evidence: []string{}})
}

func (s *Server) Languages(w http.ResponseWriter, r *http.Request) {
	specs := s.service.Languages()
	out := make([]dto.LanguageInfo, 0, len(specs))
	for _, spec := range specs {
		out = append(out, dto.LanguageInfo{
			Name:       spec.Name,
			Kind:       string(spec.Kind),
			SourceFile: spec.SourceFile,
			Compiled:   spec.Kind != lang.KindInterpreted,
		})
	}
	responseWithJSON(w, http.StatusOK, map[string][]dto.LanguageInfo{"languages": out})
}

func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	if s.pinger == nil {
		responseWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	err, ok := timeout.Run(r.Context(), healthCheckTimeout, func(ctx context.Context) error {
		return s.pinger.Ping(ctx)
	})
	switch {
	case !ok:
		responseWithJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": "sandbox ping timed out"})
	case err != nil:
		responseWithJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
	default:
		responseWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
