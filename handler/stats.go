package handler

import (
	"net/http"
)

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	daily, err := h.db.GetDailyStats(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	result := map[string]interface{}{
		"runs": daily,
	}

	if targets, err := h.db.ListTargets(ctx); err == nil {
		result["targetCount"] = len(targets)
	}
	if arts, err := h.artifacts.List(ctx); err == nil {
		result["artifactCount"] = len(arts)
	}

	writeJSON(w, result)
}
