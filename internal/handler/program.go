package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"

	"github.com/xenking/conscious-checkout/internal/domain/program"
)

type programView struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Price       json.Number `json:"price"`
	Duration    string      `json:"duration,omitempty"`
	Category    string      `json:"category,omitempty"`
	ImageURL    string      `json:"imageUrl,omitempty"`
}

func viewProgram(p *program.Program) programView {
	return programView{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Price:       money(p.Price),
		Duration:    p.Duration,
		Category:    p.Category,
		ImageURL:    p.ImageURL,
	}
}

func (h *Handler) listPrograms(w http.ResponseWriter, r *http.Request) {
	programs, err := h.programs.List(r.Context())
	if err != nil {
		internalError(w, r, "Failed to fetch programs", err)
		return
	}
	views := make([]programView, len(programs))
	for i := range programs {
		views[i] = viewProgram(&programs[i])
	}
	writeJSON(w, http.StatusOK, struct {
		envelope
		Programs []programView `json:"programs"`
	}{envelope{Success: true}, views})
}

func (h *Handler) getProgram(w http.ResponseWriter, r *http.Request) {
	p, err := h.programs.GetByID(r.Context(), chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, program.ErrNotFound):
		writeError(w, http.StatusNotFound, "Program not found")
		return
	case err != nil:
		internalError(w, r, "Failed to fetch program", err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		envelope
		Program programView `json:"program"`
	}{envelope{Success: true}, viewProgram(p)})
}
