package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// Resolver confines client-supplied names to a single storage root. Every
// file-system operation in the service goes through it first.
type Resolver struct {
	root string
}

// NewResolver creates root when it is missing and canonicalizes it so later
// containment checks compare symlink-free absolute paths.
func NewResolver(root string) (*Resolver, error) {
	trimmed := strings.TrimSpace(root)
	if trimmed == "" {
		return nil, errors.New("storage: root directory is required")
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create root: %w", err)
	}
	canonical, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: canonicalize root: %w", err)
	}
	info, err := os.Stat(canonical)
	if err != nil {
		return nil, fmt.Errorf("storage: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage: root %s is not a directory", canonical)
	}
	return &Resolver{root: canonical}, nil
}

// Root returns the canonical storage root.
func (r *Resolver) Root() string {
	return r.root
}

// Resolve percent-decodes rawName, joins it to the root and returns the
// canonical candidate path. It fails with ErrPathTraversal unless the
// candidate is the root itself or lies beneath it.
func (r *Resolver) Resolve(rawName string) (string, error) {
	name, err := url.PathUnescape(rawName)
	if err != nil {
		return "", fmt.Errorf("%w: malformed escape", ErrPathTraversal)
	}
	return r.resolve(name)
}

// ResolveEntry resolves rawName like Resolve but refuses the root itself, so
// the result always names an entry inside the root.
func (r *Resolver) ResolveEntry(rawName string) (string, error) {
	candidate, err := r.Resolve(rawName)
	if err != nil {
		return "", err
	}
	return r.entry(candidate)
}

// ResolveName is ResolveEntry for names that are already decoded, such as
// directory entries and multipart filenames.
func (r *Resolver) ResolveName(name string) (string, error) {
	candidate, err := r.resolve(name)
	if err != nil {
		return "", err
	}
	return r.entry(candidate)
}

// Locate percent-decodes rawName and returns the entry it names inside the
// root, without following a final symlink. Confinement is still checked on
// the canonical path, so the entry and whatever it links to both lie beneath
// the root. Operations that replace or remove an entry use Locate so they act
// on the link rather than its target.
func (r *Resolver) Locate(rawName string) (string, error) {
	name, err := url.PathUnescape(rawName)
	if err != nil {
		return "", fmt.Errorf("%w: malformed escape", ErrPathTraversal)
	}
	return r.LocateName(name)
}

// LocateName is Locate for names that are already decoded.
func (r *Resolver) LocateName(name string) (string, error) {
	if _, err := r.ResolveName(name); err != nil {
		return "", err
	}
	lexical := filepath.Join(r.root, name)
	if !r.contains(lexical) {
		return "", ErrPathTraversal
	}
	return r.entry(lexical)
}

func (r *Resolver) resolve(name string) (string, error) {
	if name == "" || strings.ContainsRune(name, 0) {
		return "", ErrPathTraversal
	}
	if filepath.IsAbs(name) || strings.HasPrefix(name, "/") {
		return "", ErrPathTraversal
	}

	candidate, err := canonicalize(filepath.Join(r.root, name))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrPathTraversal, err)
	}
	if !r.contains(candidate) {
		return "", ErrPathTraversal
	}
	return candidate, nil
}

func (r *Resolver) entry(candidate string) (string, error) {
	if candidate == r.root {
		return "", ErrPathTraversal
	}
	return candidate, nil
}

func (r *Resolver) contains(candidate string) bool {
	if candidate == r.root {
		return true
	}
	prefix := r.root
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	return strings.HasPrefix(candidate, prefix)
}

var errDanglingLink = errors.New("dangling symlink")

// canonicalize evaluates symlinks in path. For targets that do not exist yet
// it canonicalizes the deepest existing ancestor and re-appends the rest.
func canonicalize(path string) (string, error) {
	resolved, err := filepath.EvalSymlinks(path)
	if err == nil {
		return resolved, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return "", err
	}
	if _, lerr := os.Lstat(path); lerr == nil {
		return "", errDanglingLink
	}
	parent := filepath.Dir(path)
	if parent == path {
		return "", err
	}
	base, perr := canonicalize(parent)
	if perr != nil {
		return "", perr
	}
	return filepath.Join(base, filepath.Base(path)), nil
}
