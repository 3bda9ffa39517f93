package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"skuld/model"
	"skuld/store"
)

func (h *Handler) ListTargets(w http.ResponseWriter, r *http.Request) {
	targets, err := h.db.ListTargets(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if targets == nil {
		targets = []model.DeploymentTarget{}
	}
	writeJSON(w, targets)
}

func (h *Handler) GetTarget(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	target, err := h.db.GetTarget(r.Context(), name)
	if err != nil {
		if store.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "target not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, target)
}
