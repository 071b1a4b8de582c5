// Package artifact owns the bytes of uploads, point clouds and meshes.
// Records elsewhere only hold store-relative paths into it.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"sharp-job-service/internal/entity"
)

const (
	UploadsDir = "uploads"
	OutputsDir = "outputs"
	MeshesDir  = "meshes"
)

// ResultFile is the canonical name of a job's point cloud.
const ResultFile = "splat.ply"

// SplatFile is the compact web-viewer rendition written next to ResultFile.
const SplatFile = "scene.splat"

// Store is a directory tree rooted at root, seen through an afero filesystem.
type Store struct {
	fs   afero.Fs
	root string
}

// NewOSStore returns a Store on the local disk (or a mounted volume) at root.
func NewOSStore(root string) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve artifact root: %w", err)
	}
	base := afero.NewBasePathFs(afero.NewOsFs(), abs)
	s := &Store{fs: base, root: abs}
	if err := s.ensureLayout(); err != nil {
		return nil, err
	}
	return s, nil
}

// NewStore wraps an arbitrary filesystem; root is only used by LocalPath.
func NewStore(fsys afero.Fs, root string) (*Store, error) {
	s := &Store{fs: fsys, root: root}
	if err := s.ensureLayout(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureLayout() error {
	for _, dir := range []string{UploadsDir, OutputsDir, MeshesDir} {
		if err := s.fs.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w: %w", dir, entity.ErrStoreUnavailable, err)
		}
	}
	return nil
}

func UploadPath(id uuid.UUID, ext string) string {
	return path.Join(UploadsDir, id.String()+ext)
}

func OutputDir(jobID uuid.UUID) string {
	return path.Join(OutputsDir, jobID.String())
}

func OutputPath(jobID uuid.UUID, filename string) string {
	return path.Join(OutputsDir, jobID.String(), filename)
}

func MeshPath(filename string) string {
	return path.Join(MeshesDir, filename)
}

// Refresh re-syncs the local view with the backing volume. A local disk is
// read-after-write consistent, so there is nothing to do.
func (s *Store) Refresh(ctx context.Context) error {
	return ctx.Err()
}

func (s *Store) Exists(p string) (bool, error) {
	ok, err := afero.Exists(s.fs, p)
	if err != nil {
		return false, fmt.Errorf("stat %s: %w: %w", p, entity.ErrStoreUnavailable, err)
	}
	return ok, nil
}

func (s *Store) DirExists(p string) (bool, error) {
	ok, err := afero.DirExists(s.fs, p)
	if err != nil {
		return false, fmt.Errorf("stat %s: %w: %w", p, entity.ErrStoreUnavailable, err)
	}
	return ok, nil
}

// List returns the regular files directly under dir, sorted by name.
// A missing dir yields an empty list.
func (s *Store) List(dir string) ([]string, error) {
	infos, err := afero.ReadDir(s.fs, dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list %s: %w: %w", dir, entity.ErrStoreUnavailable, err)
	}
	names := make([]string, 0, len(infos))
	for _, fi := range infos {
		if fi.Mode().IsRegular() {
			names = append(names, fi.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func (s *Store) Open(p string) (afero.File, error) {
	f, err := s.fs.Open(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", p, entity.ErrNotFound)
		}
		return nil, fmt.Errorf("open %s: %w: %w", p, entity.ErrStoreUnavailable, err)
	}
	return f, nil
}

func (s *Store) ReadFile(p string) ([]byte, error) {
	data, err := afero.ReadFile(s.fs, p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", p, entity.ErrNotFound)
		}
		return nil, fmt.Errorf("read %s: %w: %w", p, entity.ErrStoreUnavailable, err)
	}
	return data, nil
}

// Write stores r at p through a temp file and a rename, so readers never see
// a partial artifact.
func (s *Store) Write(p string, r io.Reader) (int64, error) {
	if err := s.fs.MkdirAll(path.Dir(p), 0o755); err != nil {
		return 0, fmt.Errorf("mkdir %s: %w: %w", path.Dir(p), entity.ErrStoreUnavailable, err)
	}

	tmp := p + ".tmp-" + uuid.NewString()
	f, err := s.fs.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w: %w", tmp, entity.ErrStoreUnavailable, err)
	}

	n, err := io.Copy(f, r)
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = s.fs.Remove(tmp)
		return 0, fmt.Errorf("write %s: %w: %w", p, entity.ErrStoreUnavailable, err)
	}

	if err := s.fs.Rename(tmp, p); err != nil {
		_ = s.fs.Remove(tmp)
		return 0, fmt.Errorf("commit %s: %w: %w", p, entity.ErrStoreUnavailable, err)
	}
	return n, nil
}

func (s *Store) Rename(from, to string) error {
	if err := s.fs.Rename(from, to); err != nil {
		return fmt.Errorf("rename %s: %w: %w", from, entity.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *Store) MkdirAll(dir string) error {
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w: %w", dir, entity.ErrStoreUnavailable, err)
	}
	return nil
}

// LocalPath maps a store path to a host path for the external collaborators.
func (s *Store) LocalPath(p string) string {
	return filepath.Join(s.root, filepath.FromSlash(p))
}

// Fs exposes the underlying filesystem, mostly for tests.
func (s *Store) Fs() afero.Fs {
	return s.fs
}
