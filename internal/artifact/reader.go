package artifact

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"sharp-job-service/internal/entity"
)

// Volume is the reader's view of the store. Refresh pulls in whatever other
// writers have committed since the last look.
type Volume interface {
	Refresh(ctx context.Context) error
	Exists(p string) (bool, error)
	DirExists(p string) (bool, error)
	List(dir string) ([]string, error)
	Open(p string) (afero.File, error)
}

// NotFoundError reports what a read looked at before giving up.
type NotFoundError struct {
	Checked   []string
	DirExists bool
	Attempts  int
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("artifact not found after %d attempts (checked %s, dir exists: %t)",
		e.Attempts, strings.Join(e.Checked, ", "), e.DirExists)
}

func (e *NotFoundError) Unwrap() error {
	return entity.ErrNotFound
}

// Artifact is an opened artifact; the caller closes File.
type Artifact struct {
	Path string
	Name string
	Size int64
	File afero.File
}

// Reader bridges the lag between a writer's commit and this process seeing
// it, by refreshing and retrying a bounded number of times. It narrows the
// window, it does not close it.
type Reader struct {
	vol      Volume
	attempts int
	backoff  time.Duration
}

func NewReader(vol Volume, attempts int, wait time.Duration) *Reader {
	if attempts < 1 {
		attempts = 1
	}
	if wait < 0 {
		wait = 0
	}
	return &Reader{vol: vol, attempts: attempts, backoff: wait}
}

// Fetch opens filename from the job's output directory. If the exact name is
// missing, the first file (by name) with the same extension is served.
func (r *Reader) Fetch(ctx context.Context, jobID uuid.UUID, filename string) (*Artifact, error) {
	if err := ValidateFilename(filename); err != nil {
		return nil, err
	}
	p, err := r.locate(ctx, OutputDir(jobID), filename, true)
	if err != nil {
		return nil, err
	}
	return r.open(p)
}

// Locate resolves the store path of a job artifact the same way Fetch does,
// without opening it.
func (r *Reader) Locate(ctx context.Context, jobID uuid.UUID, filename string) (string, error) {
	if err := ValidateFilename(filename); err != nil {
		return "", err
	}
	return r.locate(ctx, OutputDir(jobID), filename, true)
}

// FetchMesh opens a derived mesh. Mesh names are unique, so there is no fallback.
func (r *Reader) FetchMesh(ctx context.Context, filename string) (*Artifact, error) {
	if err := ValidateFilename(filename); err != nil {
		return nil, err
	}
	p, err := r.locate(ctx, MeshesDir, filename, false)
	if err != nil {
		return nil, err
	}
	return r.open(p)
}

func (r *Reader) locate(ctx context.Context, dir, filename string, fallback bool) (string, error) {
	var (
		attempts  int
		checked   []string
		dirExists bool
	)
	exact := path.Join(dir, filename)
	ext := strings.ToLower(path.Ext(filename))

	op := func() (string, error) {
		attempts++
		if err := r.vol.Refresh(ctx); err != nil {
			return "", err
		}

		checked = appendOnce(checked, exact)
		ok, err := r.vol.Exists(exact)
		if err != nil {
			return "", err
		}
		if ok {
			return exact, nil
		}

		if fallback && ext != "" {
			checked = appendOnce(checked, path.Join(dir, "*"+ext))
			names, err := r.vol.List(dir)
			if err != nil {
				return "", err
			}
			for _, name := range names {
				if strings.ToLower(path.Ext(name)) == ext {
					return path.Join(dir, name), nil
				}
			}
		}

		if ok, err := r.vol.DirExists(dir); err == nil && ok {
			dirExists = true
		}
		return "", entity.ErrVisibilityLag
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(r.backoff), uint64(r.attempts-1)),
		ctx,
	)
	found, err := backoff.RetryWithData(op, b)
	if err == nil {
		if attempts > 1 {
			log.WithFields(log.Fields{
				"component": "artifact",
				"path":      found,
				"attempts":  attempts,
			}).Info("artifact became visible after retry")
		}
		return found, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", ctxErr
	}
	if !errors.Is(err, entity.ErrVisibilityLag) {
		return "", err
	}

	nf := &NotFoundError{Checked: checked, DirExists: dirExists, Attempts: attempts}
	log.WithFields(log.Fields{
		"component":  "artifact",
		"path":       exact,
		"attempts":   attempts,
		"dir_exists": dirExists,
	}).Warn("artifact not found")
	return "", nf
}

func (r *Reader) open(p string) (*Artifact, error) {
	f, err := r.vol.Open(p)
	if err != nil {
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat %s: %w: %w", p, entity.ErrStoreUnavailable, err)
	}
	return &Artifact{Path: p, Name: path.Base(p), Size: fi.Size(), File: f}, nil
}

func appendOnce(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}
