package storage

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"videovault/internal/observability/logging"
)

// Delete removes the asset named by the percent-encoded rawName. Deleting a
// name that does not exist fails with ErrNotFound; the operation is not
// idempotent. A name that is a symlink inside the root removes the link and
// leaves its target in place.
func (s *Store) Delete(ctx context.Context, rawName string) error {
	result := "error"
	defer func() { s.metrics.ObserveDeletion(result) }()

	path, err := s.resolver.Locate(rawName)
	if err != nil {
		result = "rejected"
		return err
	}
	if _, err := os.Lstat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			result = "not_found"
			return ErrNotFound
		}
		return ioError("stat", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			result = "not_found"
			return ErrNotFound
		}
		return ioError("stat", err)
	}
	if !info.Mode().IsRegular() {
		result = "not_found"
		return ErrNotFound
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			result = "not_found"
			return ErrNotFound
		}
		return ioError("remove", err)
	}
	result = "ok"
	s.changed(path)

	ctx = logging.ContextWithAsset(ctx, filepath.Base(path))
	logging.WithContext(ctx, s.logger).Info("asset deleted")
	return nil
}
