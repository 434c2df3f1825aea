package server

import (
	"net/http"
	"strings"

	"github.com/astraloracle/oracle/internal/journal"
	"github.com/astraloracle/oracle/internal/tarot"
)

func (s *Server) handleSoulmate(w http.ResponseWriter, r *http.Request) {
	var req tarot.SoulmateRequest
	if !decode(w, r, maxImageBytes, &req) {
		return
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	reading := s.deps.Reader.Soulmate(ctx, req)
	_, err := s.deps.Journal.SaveSoulmate(ctx, journal.SoulmateRecord{
		Date:     req.Date,
		Time:     req.Time,
		Place:    req.Place,
		Gender:   req.Gender,
		Interest: req.Interest,
		Reading:  reading,
	})
	if err != nil {
		logger(r).Warn("journal: soulmate reading not saved", "err", err)
	}
	writeJSON(w, http.StatusOK, reading)
}

type portraitRequest struct {
	VisualPrompt string `json:"visualPrompt"`
}

func (s *Server) handlePortrait(w http.ResponseWriter, r *http.Request) {
	var req portraitRequest
	if !decode(w, r, maxBodyBytes, &req) {
		return
	}
	if strings.TrimSpace(req.VisualPrompt) == "" {
		writeError(w, http.StatusBadRequest, "visualPrompt is required")
		return
	}
	writeJSON(w, http.StatusOK, imageResponse{Image: s.deps.Reader.SoulmatePortrait(r.Context(), req.VisualPrompt)})
}

func (s *Server) handleCities(w http.ResponseWriter, r *http.Request) {
	out := s.deps.Cities.Suggest(r.URL.Query().Get("q"))
	if out == nil {
		out = []string{}
	}
	writeJSON(w, http.StatusOK, out)
}
