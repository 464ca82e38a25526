// Package transfer hands stored assets off to the processing pipeline and
// keeps a ledger of every hand-off.
package transfer

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"videovault/internal/storage"
)

// Locator finds stored assets by percent-encoded name.
type Locator interface {
	Lookup(rawName string) (storage.Entry, error)
}

// Reference names a stored asset by the access path clients use to fetch it.
type Reference struct {
	AccessPath string
	Name       string
	Path       string
	Size       int64
}

// ParseReference validates accessPath and resolves it to an existing regular
// file. Every failure wraps ErrInvalidReference.
func ParseReference(locator Locator, accessPath string) (Reference, error) {
	accessPath = strings.TrimSpace(accessPath)
	if !strings.HasPrefix(accessPath, storage.PublicPrefix) {
		return Reference{}, fmt.Errorf("%w: missing %s prefix", ErrInvalidReference, storage.PublicPrefix)
	}
	entry, err := locator.Lookup(strings.TrimPrefix(accessPath, storage.PublicPrefix))
	if err != nil {
		return Reference{}, fmt.Errorf("%w: %w", ErrInvalidReference, err)
	}
	return Reference{
		AccessPath: accessPath,
		Name:       entry.Name,
		Path:       entry.Path,
		Size:       entry.Size,
	}, nil
}

// Job is the unit handed to a transporter. It never carries a file-system
// path so it can leave the process as is.
type Job struct {
	ID          string    `json:"id"`
	AccessPath  string    `json:"videoPath"`
	Name        string    `json:"name"`
	Size        int64     `json:"size"`
	RequestedAt time.Time `json:"requestedAt"`
}

// NewJob assigns a fresh identifier to a hand-off of ref.
func NewJob(ref Reference, now time.Time) Job {
	return Job{
		ID:          uuid.NewString(),
		AccessPath:  ref.AccessPath,
		Name:        ref.Name,
		Size:        ref.Size,
		RequestedAt: now.UTC(),
	}
}
