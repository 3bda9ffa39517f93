package model

import "time"

// Artifact is an immutable, versioned build output. Once stored it is
// never mutated; a new build always produces a new version.
type Artifact struct {
	Version   string    `json:"version"`
	Key       string    `json:"key"`      // object key in the artifact bucket
	Revision  string    `json:"revision"` // source revision it was built from
	SizeBytes int64     `json:"sizeBytes"`
	CreatedAt time.Time `json:"createdAt"`
}
