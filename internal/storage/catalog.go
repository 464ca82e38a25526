package storage

import (
	"context"
	"errors"
	"io/fs"
	"os"

	"golang.org/x/sync/errgroup"

	"videovault/internal/probe"
)

// List enumerates the video files in the storage root. It is recomputed on
// every call; only durations may come from the probe cache.
//
// Results are ordered lexicographically by name. Durations are probed
// concurrently with at most ProbeConcurrency probes in flight, and a failed
// probe shows up as probe.Unknown rather than failing the listing.
func (s *Store) List(ctx context.Context) ([]Asset, error) {
	entries, err := os.ReadDir(s.resolver.Root())
	if err != nil {
		return nil, ioError("read catalog", err)
	}

	assets := make([]Asset, 0, len(entries))
	paths := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if !IsVideoName(name) {
			continue
		}
		path, err := s.resolver.ResolveName(name)
		if err != nil {
			s.logger.Warn("skipping catalog entry outside storage root", "name", name)
			continue
		}
		info, err := os.Stat(path)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				s.logger.Warn("skipping unreadable catalog entry", "name", name, "error", err)
			}
			continue
		}
		if !info.Mode().IsRegular() {
			continue
		}
		assets = append(assets, Asset{
			Name:       name,
			SizeBytes:  info.Size(),
			Duration:   probe.Unknown,
			AccessPath: AccessPath(name),
		})
		paths = append(paths, path)
	}

	if s.prober == nil || len(assets) == 0 {
		return assets, nil
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.concurrency)
	for i := range assets {
		i := i
		group.Go(func() error {
			assets[i].Duration = s.prober.Duration(groupCtx, paths[i])
			return nil
		})
	}
	_ = group.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return assets, nil
}
