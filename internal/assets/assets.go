// Package assets maps sound file names to the paths the engine should load,
// either by finding them locally or by staging them into the engine's asset
// cache.
package assets

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/banshee-data/soundfield/internal/fsutil"
	"github.com/banshee-data/soundfield/internal/security"
)

// ErrMissingAsset is returned when a sound file cannot be found locally. The
// returned path is still usable; the engine will simply fail to load it.
var ErrMissingAsset = errors.New("assets: sound file not found")

// CacheSyncer copies local asset files to wherever the engine reads them.
type CacheSyncer interface {
	Sync(cacheName string, files []string, forceOverwrite bool) error
}

// Resolver turns asset names into engine load paths.
type Resolver struct {
	fs          fsutil.FileSystem
	syncer      CacheSyncer
	searchPaths []string

	mu             sync.Mutex
	dir            string
	dirSet         bool
	cacheEnabled   bool
	forceOverwrite bool
}

// NewResolver searches searchPaths, then the asset directory when set, then
// the working directory.
func NewResolver(fsys fsutil.FileSystem, syncer CacheSyncer, searchPaths ...string) *Resolver {
	if fsys == nil {
		fsys = fsutil.OSFileSystem{}
	}
	return &Resolver{fs: fsys, syncer: syncer, searchPaths: searchPaths}
}

func (r *Resolver) SetAssetDirectory(dir string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dir, r.dirSet = dir, true
}

// AssetDirectory returns the directory and whether one was set.
func (r *Resolver) AssetDirectory() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dir, r.dirSet
}

func (r *Resolver) SetCacheEnabled(v bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cacheEnabled = v
}

func (r *Resolver) CacheEnabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cacheEnabled
}

func (r *Resolver) SetForceOverwrite(v bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.forceOverwrite = v
}

func (r *Resolver) ForceOverwrite() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.forceOverwrite
}

// Resolve returns the path to send to the engine for name.
//
// In cache mode the file is handed to the CacheSyncer and the engine-side
// path is the asset directory joined with name. Otherwise the file is looked
// up locally; a miss returns the unresolved path with ErrMissingAsset.
func (r *Resolver) Resolve(name string) (string, error) {
	r.mu.Lock()
	dir, dirSet, cache, force := r.dir, r.dirSet, r.cacheEnabled, r.forceOverwrite
	r.mu.Unlock()

	full := name
	if dirSet {
		full = filepath.Join(dir, name)
	}

	if cache {
		if r.syncer == nil {
			return full, fmt.Errorf("asset cache enabled but no syncer configured")
		}
		if err := r.syncer.Sync(dir, []string{name}, force); err != nil {
			return full, fmt.Errorf("sync %s to cache %q: %w", name, dir, err)
		}
		return full, nil
	}

	if found, ok := r.find(name, dir, dirSet); ok {
		return found, nil
	}
	return full, fmt.Errorf("%w: %s", ErrMissingAsset, name)
}

func (r *Resolver) find(name, dir string, dirSet bool) (string, bool) {
	if filepath.IsAbs(name) {
		return name, r.fs.Exists(name)
	}
	roots := append([]string(nil), r.searchPaths...)
	if dirSet && dir != "" {
		roots = append(roots, dir)
	}
	roots = append(roots, ".")

	// candidates may not leave the set of search roots
	for _, root := range roots {
		candidate := filepath.Join(root, name)
		if err := security.ValidatePathWithinAllowedDirs(candidate, roots); err != nil {
			continue
		}
		if r.fs.Exists(candidate) {
			return candidate, true
		}
	}
	return "", false
}

// DirCacheSyncer stages assets by copying them from local source roots into
// CacheRoot/<cache name>/, typically a share mounted on the engine host.
type DirCacheSyncer struct {
	FS          fsutil.FileSystem
	SourceRoots []string
	CacheRoot   string
}

// Sync copies each file. Existing cache entries are kept unless
// forceOverwrite is set.
func (s *DirCacheSyncer) Sync(cacheName string, files []string, forceOverwrite bool) error {
	fsys := s.FS
	if fsys == nil {
		fsys = fsutil.OSFileSystem{}
	}
	cacheDir := filepath.Join(s.CacheRoot, security.SanitizeFilename(cacheName))

	var errs []error
	for _, f := range files {
		if !filepath.IsLocal(f) {
			errs = append(errs, fmt.Errorf("refusing to cache non-local path %q", f))
			continue
		}
		dest := filepath.Join(cacheDir, f)
		if !forceOverwrite && fsys.Exists(dest) {
			continue
		}

		src, ok := s.source(fsys, f)
		if !ok {
			errs = append(errs, fmt.Errorf("%w: %s", ErrMissingAsset, f))
			continue
		}
		data, err := fsys.ReadFile(src)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := fsys.MkdirAll(filepath.Dir(dest), 0755); err != nil {
			errs = append(errs, err)
			continue
		}
		if err := fsys.WriteFile(dest, data, 0644); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *DirCacheSyncer) source(fsys fsutil.FileSystem, f string) (string, bool) {
	for _, root := range s.SourceRoots {
		p := filepath.Join(root, f)
		if fsys.Exists(p) {
			return p, true
		}
	}
	return "", false
}
