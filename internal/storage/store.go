// Package storage manages the flat directory of video assets: name
// confinement, streamed ingest, catalog listing, deletion and reads.
package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"videovault/internal/observability/metrics"
	"videovault/internal/probe"
)

// DefaultMaxUploadBytes is the per-file upload cap (3 GiB).
const DefaultMaxUploadBytes int64 = 3 << 30

const defaultProbeConcurrency = 4

type Config struct {
	Root             string
	MaxUploadBytes   int64
	ProbeConcurrency int
	Prober           probe.MetadataProber
	Logger           *slog.Logger
	Metrics          *metrics.Recorder
	// OnChange is invoked with the canonical path of every file the store
	// creates, replaces or removes.
	OnChange func(path string)
}

// Store is the entry point for every operation on stored assets. It holds no
// locks: concurrent writers to one name race and the last rename wins.
type Store struct {
	resolver    *Resolver
	maxBytes    int64
	concurrency int
	prober      probe.MetadataProber
	logger      *slog.Logger
	metrics     *metrics.Recorder
	onChange    func(string)
}

// New prepares the storage root and returns a Store.
func New(cfg Config) (*Store, error) {
	resolver, err := NewResolver(cfg.Root)
	if err != nil {
		return nil, err
	}
	maxBytes := cfg.MaxUploadBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxUploadBytes
	}
	concurrency := cfg.ProbeConcurrency
	if concurrency <= 0 {
		concurrency = defaultProbeConcurrency
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Default()
	}
	return &Store{
		resolver:    resolver,
		maxBytes:    maxBytes,
		concurrency: concurrency,
		prober:      cfg.Prober,
		logger:      logger,
		metrics:     recorder,
		onChange:    cfg.OnChange,
	}, nil
}

// Resolver exposes the name confinement used by the store.
func (s *Store) Resolver() *Resolver {
	return s.resolver
}

// Root returns the canonical storage root.
func (s *Store) Root() string {
	return s.resolver.Root()
}

// MaxUploadBytes reports the per-file upload cap.
func (s *Store) MaxUploadBytes() int64 {
	return s.maxBytes
}

func (s *Store) changed(path string) {
	if s.onChange != nil {
		s.onChange(path)
	}
}

// Entry describes a stored file located by name.
type Entry struct {
	Name    string
	Path    string
	Size    int64
	ModTime time.Time
}

// Lookup resolves a percent-encoded name and reports the regular file it
// names. Missing files and directories yield ErrNotFound.
func (s *Store) Lookup(rawName string) (Entry, error) {
	path, err := s.resolver.ResolveEntry(rawName)
	if err != nil {
		return Entry{}, err
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, ioError("stat", err)
	}
	if !info.Mode().IsRegular() {
		return Entry{}, ErrNotFound
	}
	return Entry{Name: info.Name(), Path: path, Size: info.Size(), ModTime: info.ModTime()}, nil
}

// Open resolves rawName and opens the regular file it names for reading.
func (s *Store) Open(rawName string) (*os.File, fs.FileInfo, error) {
	path, err := s.resolver.ResolveEntry(rawName)
	if err != nil {
		return nil, nil, err
	}
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, ioError("open", err)
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, nil, ioError("stat", err)
	}
	if !info.Mode().IsRegular() {
		_ = file.Close()
		return nil, nil, ErrNotFound
	}
	return file, info, nil
}

func (s *Store) String() string {
	return fmt.Sprintf("storage(%s)", s.resolver.Root())
}
