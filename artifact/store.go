package artifact

import (
	"time"

	"github.com/hupe1980/soulmesh/core"
)

// Artifact is a stored file together with its metadata. Data may be empty
// when the artifact lives behind a URL instead.
type Artifact struct {
	ID      string
	Name    string
	MIME    string
	Data    []byte
	URL     string
	Created time.Time
}

// FromUpload builds an artifact from an incoming file upload, assigning a
// fresh id.
func FromUpload(f core.FileUpload) Artifact {
	return Artifact{
		ID:      core.NewID(),
		Name:    f.Name,
		MIME:    f.MIME,
		Data:    f.Data,
		URL:     f.URL,
		Created: time.Now().UTC(),
	}
}

// Store persists artifacts per session.
type Store interface {
	// Save stores (or overwrites) an artifact under the session.
	Save(sessionID string, a Artifact) error
	// Get returns the artifact or ErrNotFound.
	Get(sessionID, artifactID string) (Artifact, error)
	// List returns the session's artifacts, newest first.
	List(sessionID string) ([]Artifact, error)
	// Delete removes the artifact or returns ErrNotFound.
	Delete(sessionID, artifactID string) error
}
