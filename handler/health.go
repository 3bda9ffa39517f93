package handler

import (
	"context"
	"net/http"
)

// healthChecker is implemented by backends with a liveness probe, such
// as the S3 artifact store and the Consul vault source.
type healthChecker interface {
	Healthy(ctx context.Context) error
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	services := map[string]string{}

	if err := h.db.Healthy(ctx); err != nil {
		services["postgres"] = "down"
	} else {
		services["postgres"] = "up"
	}

	if hc, ok := h.artifacts.(healthChecker); ok {
		if err := hc.Healthy(ctx); err != nil {
			services["s3"] = "down"
		} else {
			services["s3"] = "up"
		}
	}

	status := "ok"
	for _, v := range services {
		if v == "down" {
			status = "degraded"
			break
		}
	}

	writeJSON(w, map[string]interface{}{
		"status":   status,
		"services": services,
	})
}
