package saga

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Event is one entry in a pipeline run's structured audit trail. The
// full event list for a run is the record emitted for dashboards and
// audit consumers.
type Event struct {
	ID        string            `json:"id"`
	RunID     string            `json:"runId"`
	Timestamp time.Time         `json:"timestamp"`
	Source    string            `json:"source"`
	Target    string            `json:"target"`
	Category  string            `json:"category"` // deploy, rollback, system
	Action    string            `json:"action"`   // stage.start, stage.complete, stage.failed, etc.
	Message   string            `json:"message"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

type Store interface {
	Append(ctx context.Context, evt *Event) error
	ListByRun(ctx context.Context, runID string) ([]Event, error)
	ListByTarget(ctx context.Context, target string, limit int) ([]Event, error)
	ListRecent(ctx context.Context, limit int) ([]Event, error)
}

// Saga logs structured events for one pipeline run or rollback.
type Saga struct {
	RunID    string
	Target   string
	Source   string
	Category string
	store    Store
}

func New(store Store, runID, target, source, category string) *Saga {
	return &Saga{
		RunID:    runID,
		Target:   target,
		Source:   source,
		Category: category,
		store:    store,
	}
}

func (s *Saga) Log(ctx context.Context, action, message string, metadata map[string]string) error {
	evt := &Event{
		ID:        uuid.New().String(),
		RunID:     s.RunID,
		Timestamp: time.Now(),
		Source:    s.Source,
		Target:    s.Target,
		Category:  s.Category,
		Action:    action,
		Message:   message,
		Metadata:  metadata,
	}
	return s.store.Append(ctx, evt)
}

func (s *Saga) StageStart(ctx context.Context, stage string) error {
	return s.Log(ctx, "stage.start", stage+" started", map[string]string{"stage": stage})
}

func (s *Saga) StageComplete(ctx context.Context, stage string, durationMs int64) error {
	return s.Log(ctx, "stage.complete", stage+" completed", map[string]string{
		"stage":      stage,
		"durationMs": strconv.FormatInt(durationMs, 10),
	})
}

func (s *Saga) StageFailed(ctx context.Context, stage string, err error) error {
	return s.Log(ctx, "stage.failed", stage+" failed: "+err.Error(), map[string]string{
		"stage": stage,
		"error": err.Error(),
	})
}
