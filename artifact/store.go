package artifact

import (
	"context"
	"errors"
	"io"

	"skuld/model"
)

// ErrVersionExists is returned when a Put would overwrite a stored
// version. Artifacts are immutable; a new build gets a new version.
var ErrVersionExists = errors.New("artifact version already stored")

// ErrNotFound is returned when no artifact exists for a version.
var ErrNotFound = errors.New("artifact not found")

// Store is durable, versioned storage of build outputs. Deploy reads the
// candidate version; rollback reads the previously active one.
type Store interface {
	Put(ctx context.Context, version, revision string, r io.Reader, size int64) (*model.Artifact, error)
	Fetch(ctx context.Context, version string) (io.ReadCloser, error)
	Stat(ctx context.Context, version string) (*model.Artifact, error)
	List(ctx context.Context) ([]model.Artifact, error)
	// Prune removes all but the newest keep versions. Versions in the
	// protected set are never removed regardless of age.
	Prune(ctx context.Context, keep int, protected map[string]bool) (int, error)
}
