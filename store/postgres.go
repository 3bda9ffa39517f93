package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"skuld/model"
)

// ErrVersionConflict is returned when a compare-and-set on a target's
// active version loses to a concurrent writer.
var ErrVersionConflict = errors.New("active version changed concurrently")

type DB struct {
	Pool *pgxpool.Pool
}

func Connect(databaseURL string) (*DB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}
	return &DB{Pool: pool}, nil
}

func (db *DB) Close() {
	db.Pool.Close()
}

func Migrate(db *DB) error {
	ctx := context.Background()
	_, err := db.Pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS saga_events (
			id         TEXT PRIMARY KEY,
			run_id     TEXT NOT NULL,
			timestamp  TIMESTAMPTZ NOT NULL DEFAULT now(),
			source     TEXT NOT NULL DEFAULT '',
			target     TEXT NOT NULL DEFAULT '',
			category   TEXT NOT NULL DEFAULT '',
			action     TEXT NOT NULL DEFAULT '',
			message    TEXT NOT NULL DEFAULT '',
			metadata   JSONB NOT NULL DEFAULT '{}'
		);
		CREATE INDEX IF NOT EXISTS idx_saga_run_id ON saga_events(run_id, timestamp);
		CREATE INDEX IF NOT EXISTS idx_saga_target ON saga_events(target, timestamp DESC);

		CREATE TABLE IF NOT EXISTS pipeline_runs (
			id               TEXT PRIMARY KEY,
			target           TEXT NOT NULL,
			revision         TEXT NOT NULL,
			artifact_version TEXT NOT NULL DEFAULT '',
			prior_version    TEXT NOT NULL DEFAULT '',
			saga_id          TEXT NOT NULL,
			status           TEXT NOT NULL DEFAULT 'pending',
			escalated        BOOLEAN NOT NULL DEFAULT FALSE,
			inconsistent     BOOLEAN NOT NULL DEFAULT FALSE,
			stages           JSONB NOT NULL DEFAULT '[]',
			started_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
			finished_at      TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS idx_runs_target ON pipeline_runs(target, started_at DESC);

		CREATE TABLE IF NOT EXISTS targets (
			name           TEXT PRIMARY KEY,
			host           TEXT NOT NULL,
			port           INT NOT NULL DEFAULT 22,
			service        TEXT NOT NULL,
			install_path   TEXT NOT NULL,
			health_url     TEXT NOT NULL,
			credential_ref TEXT NOT NULL,
			active_version TEXT NOT NULL DEFAULT '',
			updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
		);
	`)
	return err
}

func (db *DB) InsertRun(ctx context.Context, r *model.PipelineRun) error {
	stages, err := json.Marshal(r.Stages)
	if err != nil {
		return fmt.Errorf("marshal stages: %w", err)
	}
	if r.Stages == nil {
		stages = []byte("[]")
	}
	_, err = db.Pool.Exec(ctx,
		`INSERT INTO pipeline_runs (id, target, revision, artifact_version, prior_version, saga_id, status, escalated, inconsistent, stages, started_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		r.ID, r.Target, r.Revision, r.ArtifactVersion, r.PriorVersion, r.SagaID, r.Status, r.Escalated, r.Inconsistent, stages, r.StartedAt,
	)
	return err
}

// UpdateRun persists the run's mutable fields. Terminal statuses also set
// finished_at; after that the row is treated as an immutable record.
func (db *DB) UpdateRun(ctx context.Context, r *model.PipelineRun) error {
	stages, err := json.Marshal(r.Stages)
	if err != nil {
		return fmt.Errorf("marshal stages: %w", err)
	}
	var finished *time.Time
	if r.Terminal() {
		if r.FinishedAt == nil {
			now := time.Now()
			r.FinishedAt = &now
		}
		finished = r.FinishedAt
	}
	_, err = db.Pool.Exec(ctx,
		`UPDATE pipeline_runs
		 SET status = $1, artifact_version = $2, prior_version = $3, escalated = $4, inconsistent = $5, stages = $6, finished_at = $7
		 WHERE id = $8`,
		r.Status, r.ArtifactVersion, r.PriorVersion, r.Escalated, r.Inconsistent, stages, finished, r.ID,
	)
	return err
}

func (db *DB) GetRun(ctx context.Context, id string) (*model.PipelineRun, error) {
	row := db.Pool.QueryRow(ctx,
		`SELECT id, target, revision, artifact_version, prior_version, saga_id, status, escalated, inconsistent, stages, started_at, finished_at
		 FROM pipeline_runs WHERE id = $1`, id)
	return scanRun(row)
}

func (db *DB) ListRuns(ctx context.Context, target string, limit int) ([]model.PipelineRun, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT id, target, revision, artifact_version, prior_version, saga_id, status, escalated, inconsistent, stages, started_at, finished_at
		 FROM pipeline_runs`
	args := []interface{}{}
	if target != "" {
		query += " WHERE target = $1 ORDER BY started_at DESC LIMIT $2"
		args = append(args, target, limit)
	} else {
		query += " ORDER BY started_at DESC LIMIT $1"
		args = append(args, limit)
	}

	rows, err := db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []model.PipelineRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*model.PipelineRun, error) {
	var r model.PipelineRun
	var stages []byte
	if err := row.Scan(&r.ID, &r.Target, &r.Revision, &r.ArtifactVersion, &r.PriorVersion, &r.SagaID, &r.Status, &r.Escalated, &r.Inconsistent, &stages, &r.StartedAt, &r.FinishedAt); err != nil {
		return nil, err
	}
	if len(stages) > 0 {
		if err := json.Unmarshal(stages, &r.Stages); err != nil {
			return nil, fmt.Errorf("unmarshal stages: %w", err)
		}
	}
	return &r, nil
}

// RecoverInFlightRuns marks runs that were still in flight when the
// process last stopped as failed. Called once at startup.
func (db *DB) RecoverInFlightRuns(ctx context.Context) error {
	_, err := db.Pool.Exec(ctx,
		`UPDATE pipeline_runs SET status = 'failed', finished_at = now()
		 WHERE status IN ('pending', 'running')`,
	)
	return err
}

func (db *DB) UpsertTarget(ctx context.Context, t *model.DeploymentTarget) error {
	_, err := db.Pool.Exec(ctx,
		`INSERT INTO targets (name, host, port, service, install_path, health_url, credential_ref, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		 ON CONFLICT (name) DO UPDATE SET
			host = EXCLUDED.host,
			port = EXCLUDED.port,
			service = EXCLUDED.service,
			install_path = EXCLUDED.install_path,
			health_url = EXCLUDED.health_url,
			credential_ref = EXCLUDED.credential_ref,
			updated_at = now()`,
		t.Name, t.Host, portOr22(t.Port), t.ServiceName, t.InstallPath, t.HealthURL, t.CredentialRef,
	)
	return err
}

func (db *DB) GetTarget(ctx context.Context, name string) (*model.DeploymentTarget, error) {
	var t model.DeploymentTarget
	err := db.Pool.QueryRow(ctx,
		`SELECT name, host, port, service, install_path, health_url, credential_ref, active_version
		 FROM targets WHERE name = $1`, name,
	).Scan(&t.Name, &t.Host, &t.Port, &t.ServiceName, &t.InstallPath, &t.HealthURL, &t.CredentialRef, &t.ActiveVersion)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (db *DB) ListTargets(ctx context.Context) ([]model.DeploymentTarget, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT name, host, port, service, install_path, health_url, credential_ref, active_version
		 FROM targets ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var targets []model.DeploymentTarget
	for rows.Next() {
		var t model.DeploymentTarget
		if err := rows.Scan(&t.Name, &t.Host, &t.Port, &t.ServiceName, &t.InstallPath, &t.HealthURL, &t.CredentialRef, &t.ActiveVersion); err != nil {
			return nil, err
		}
		targets = append(targets, t)
	}
	return targets, nil
}

// CompareAndSetActiveVersion commits a target's new active version, but
// only if the stored value still matches what the caller read at the
// start of the run. Both the deploy and rollback success paths go
// through here.
func (db *DB) CompareAndSetActiveVersion(ctx context.Context, name, expect, next string) error {
	tag, err := db.Pool.Exec(ctx,
		`UPDATE targets SET active_version = $1, updated_at = now()
		 WHERE name = $2 AND active_version = $3`,
		next, name, expect,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrVersionConflict
	}
	return nil
}

// Healthy checks the database connection.
func (db *DB) Healthy(ctx context.Context) error {
	var n int
	return db.Pool.QueryRow(ctx, "SELECT 1").Scan(&n)
}

// DailyStats returns basic run statistics for today.
type DailyStats struct {
	Total      int `json:"total"`
	Succeeded  int `json:"succeeded"`
	Failed     int `json:"failed"`
	RolledBack int `json:"rolledBack"`
}

func (db *DB) GetDailyStats(ctx context.Context) (*DailyStats, error) {
	s := &DailyStats{}
	err := db.Pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'succeeded'),
			COUNT(*) FILTER (WHERE status = 'failed'),
			COUNT(*) FILTER (WHERE status = 'rolled_back')
		FROM pipeline_runs
		WHERE started_at >= CURRENT_DATE
	`).Scan(&s.Total, &s.Succeeded, &s.Failed, &s.RolledBack)
	if err != nil {
		return nil, fmt.Errorf("daily stats: %w", err)
	}
	return s, nil
}

// IsNotFound reports whether err is a no-rows lookup miss.
func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

func portOr22(port int) int {
	if port == 0 {
		return 22
	}
	return port
}
