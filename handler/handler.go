package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"regexp"

	"github.com/go-chi/chi/v5"

	"skuld/artifact"
	"skuld/config"
	"skuld/hub"
	"skuld/model"
	"skuld/saga"
	"skuld/store"
)

var validTargetRe = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

// Store is the slice of the persistence layer the HTTP API reads from.
type Store interface {
	GetRun(ctx context.Context, id string) (*model.PipelineRun, error)
	ListRuns(ctx context.Context, target string, limit int) ([]model.PipelineRun, error)
	GetTarget(ctx context.Context, name string) (*model.DeploymentTarget, error)
	ListTargets(ctx context.Context) ([]model.DeploymentTarget, error)
	GetDailyStats(ctx context.Context) (*store.DailyStats, error)
	Healthy(ctx context.Context) error
}

// Runner starts pipeline runs. Both methods block until the run is
// terminal; handlers that want async trigger wrap them in a goroutine.
type Runner interface {
	Execute(ctx context.Context, targetName, revision string) (*model.PipelineRun, error)
	Redeploy(ctx context.Context, targetName, version string) (*model.PipelineRun, error)
}

type Handler struct {
	db        Store
	pipeline  Runner
	artifacts artifact.Store
	sagaStore saga.Store
	ws        *hub.Hub
	cfg       *config.Config
}

func New(db Store, p Runner, arts artifact.Store, ss saga.Store, ws *hub.Hub, cfg *config.Config) *Handler {
	return &Handler{
		db:        db,
		pipeline:  p,
		artifacts: arts,
		sagaStore: ss,
		ws:        ws,
		cfg:       cfg,
	}
}

// ValidateTargetName is middleware that rejects requests with invalid
// target names before they hit a handler.
func ValidateTargetName(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		if name != "" && !validTargetRe.MatchString(name) {
			http.Error(w, "invalid target name", http.StatusBadRequest)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func decodeJSON(r *http.Request, v interface{}) error {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return nil
	}
	return json.Unmarshal(body, v)
}
