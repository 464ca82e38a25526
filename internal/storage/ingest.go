package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"golang.org/x/text/unicode/norm"

	"videovault/internal/observability/logging"
)

const stagingPattern = ".upload-*.partial"

// NormalizeName trims a client-declared filename and converts it to Unicode
// NFC so visually identical names map to one file.
func NormalizeName(name string) string {
	return norm.NFC.String(strings.TrimSpace(name))
}

// Ingest streams body into the storage root as declaredName. Bytes land in a
// hidden staging file that is renamed into place only after the whole body
// was written, so readers never observe a truncated asset. The staging file
// is removed on every failure path, including cancellation of ctx.
//
// declaredName must be a bare file name. When it names an existing symlink the
// link is replaced by the upload and its target is left untouched.
func (s *Store) Ingest(ctx context.Context, body io.Reader, declaredType, declaredName string) (Asset, error) {
	if _, ok := ParseMediaType(declaredType); !ok {
		return Asset{}, ErrUnsupportedMediaType
	}
	name := NormalizeName(declaredName)
	if filepath.Base(name) != name {
		return Asset{}, ErrPathTraversal
	}
	dest, err := s.resolver.LocateName(name)
	if err != nil {
		return Asset{}, err
	}

	ctx = logging.ContextWithAsset(ctx, name)
	logger := logging.WithContext(ctx, s.logger)

	s.metrics.UploadStarted()
	result := "error"
	var stored int64
	defer func() {
		s.metrics.UploadFinished(result, stored)
	}()

	staging, err := os.CreateTemp(filepath.Dir(dest), stagingPattern)
	if err != nil {
		return Asset{}, ioError("create staging file", err)
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		_ = staging.Close()
		if rmErr := os.Remove(staging.Name()); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			logger.Warn("failed to remove staging file", "error", rmErr)
		}
	}()

	written, err := io.Copy(staging, io.LimitReader(contextReader{ctx: ctx, r: body}, s.maxBytes+1))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			result = "canceled"
			return Asset{}, ioError("receive upload", ctxErr)
		}
		return Asset{}, ioError("receive upload", err)
	}
	if written > s.maxBytes {
		result = "too_large"
		logger.Warn("upload exceeded size limit", "limit", humanize.IBytes(uint64(s.maxBytes)))
		return Asset{}, ErrTooLarge
	}
	if err := staging.Chmod(0o644); err != nil {
		return Asset{}, ioError("chmod staging file", err)
	}
	if err := staging.Close(); err != nil {
		return Asset{}, ioError("close staging file", err)
	}
	if err := os.Rename(staging.Name(), dest); err != nil {
		return Asset{}, ioError("commit upload", err)
	}
	committed = true

	info, err := os.Stat(dest)
	if err != nil {
		return Asset{}, ioError("stat upload", err)
	}
	stored = info.Size()
	result = "ok"
	s.changed(dest)

	logger.Info("upload stored", "size", humanize.IBytes(uint64(stored)), "bytes", stored)
	return Asset{
		Name:       name,
		SizeBytes:  stored,
		AccessPath: AccessPath(name),
	}, nil
}

// contextReader stops a copy as soon as ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
