package handler

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"skuld/model"
	"skuld/store"
)

func (h *Handler) Deploy(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var req struct {
		Revision string `json:"revision"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Revision == "" {
		req.Revision = "HEAD"
	}

	target, err := h.db.GetTarget(r.Context(), name)
	if err != nil {
		if store.IsNotFound(err) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("target %s not found", name))
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	go func() {
		if _, err := h.pipeline.Execute(context.Background(), target.Name, req.Revision); err != nil {
			log.Printf("handler: deploy %s: %v", target.Name, err)
		}
	}()

	writeJSON(w, map[string]string{
		"target":   target.Name,
		"revision": req.Revision,
		"status":   "deploying",
	})
}

// Rollback redeploys the version that was active before the current one,
// resolved from the most recent successful run against the target.
func (h *Handler) Rollback(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	ctx := r.Context()

	target, err := h.db.GetTarget(ctx, name)
	if err != nil {
		if store.IsNotFound(err) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("target %s not found", name))
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if target.ActiveVersion == "" {
		writeError(w, http.StatusConflict, "target has no active version")
		return
	}

	prior, err := h.priorVersion(ctx, target.Name, target.ActiveVersion)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	go func() {
		if _, err := h.pipeline.Redeploy(context.Background(), target.Name, prior); err != nil {
			log.Printf("handler: rollback %s: %v", target.Name, err)
		}
	}()

	writeJSON(w, map[string]string{
		"target":  target.Name,
		"version": prior,
		"status":  "rolling_back",
	})
}

// priorVersion walks recent runs for the last version that succeeded on
// the target before the currently active one.
func (h *Handler) priorVersion(ctx context.Context, target, active string) (string, error) {
	runs, err := h.db.ListRuns(ctx, target, 50)
	if err != nil {
		return "", err
	}
	for _, run := range runs {
		if run.Status != model.RunSucceeded && run.Status != model.RunRolledBack {
			continue
		}
		if run.ArtifactVersion == active && run.PriorVersion != "" {
			return run.PriorVersion, nil
		}
	}
	return "", fmt.Errorf("no prior version recorded for %s", target)
}
