package handler

import (
	"net/http"

	"skuld/model"
)

func (h *Handler) ListArtifacts(w http.ResponseWriter, r *http.Request) {
	arts, err := h.artifacts.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if arts == nil {
		arts = []model.Artifact{}
	}
	writeJSON(w, arts)
}
