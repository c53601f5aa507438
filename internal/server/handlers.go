package server

import (
	"encoding/json"
	"net/http"
	"regexp"
	"strings"

	"github.com/sells-group/brandintel/internal/apperr"
)

var runIDPattern = regexp.MustCompile(`^run_[a-f0-9-]+$`)

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.Validation("request body must be valid JSON")
	}
	return nil
}

func checkRunID(runID string) error {
	if runID == "" {
		return apperr.Validation("run_id is required")
	}
	if !runIDPattern.MatchString(runID) {
		return apperr.Validationf("run_id %q is not a valid run identifier", runID)
	}
	return nil
}

func (s *Server) handleBrandSummary(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BrandURL string `json:"brand_url"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.BrandURL) == "" {
		s.writeError(w, r, apperr.Validation("brand_url is required"))
		return
	}

	resp, err := s.pipeline.BrandSummary(r.Context(), req.BrandURL)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCompetitors(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RunID string `json:"run_id"`
		// BrandDomain is accepted for wire compatibility and ignored; the
		// stored brand artifact is the source of truth.
		BrandDomain string `json:"brand_domain"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := checkRunID(req.RunID); err != nil {
		s.writeError(w, r, err)
		return
	}

	resp, err := s.pipeline.Competitors(r.Context(), req.RunID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RunID   string   `json:"run_id"`
		Domains []string `json:"domains"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := checkRunID(req.RunID); err != nil {
		s.writeError(w, r, err)
		return
	}

	resp, err := s.pipeline.AnalyzeCompetitors(r.Context(), req.RunID, req.Domains)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleKernel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RunID string `json:"run_id"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := checkRunID(req.RunID); err != nil {
		s.writeError(w, r, err)
		return
	}

	resp, err := s.pipeline.Kernel(r.Context(), req.RunID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
