package service

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	_ "golang.org/x/image/webp"

	"sharp-job-service/internal/artifact"
	"sharp-job-service/internal/entity"
)

// BlobWriter is the write side of the artifact store used for uploads.
type BlobWriter interface {
	Write(p string, r io.Reader) (int64, error)
}

type UploadService struct {
	uploads  UploadRepository
	blobs    BlobWriter
	maxBytes int64
	now      func() time.Time
}

func NewUploadService(uploads UploadRepository, blobs BlobWriter, maxBytes int64) *UploadService {
	if maxBytes <= 0 {
		maxBytes = 50 << 20
	}
	return &UploadService{uploads: uploads, blobs: blobs, maxBytes: maxBytes, now: time.Now}
}

// Save validates an uploaded image and stores it as uploads/{id}{ext}.
func (s *UploadService) Save(ctx context.Context, filename string, r io.Reader) (*entity.Upload, error) {
	clean, ext, err := artifact.SanitizeUploadName(filename)
	if err != nil {
		return nil, err
	}

	data, err := io.ReadAll(io.LimitReader(r, s.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w: %w", entity.ErrInvalidInput, err)
	}
	if int64(len(data)) > s.maxBytes {
		return nil, fmt.Errorf("file exceeds %d bytes: %w", s.maxBytes, entity.ErrInvalidInput)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty file: %w", entity.ErrInvalidInput)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("not a readable image: %w", entity.ErrInvalidInput)
	}

	u := &entity.Upload{
		ID:        uuid.New(),
		Filename:  clean,
		Width:     cfg.Width,
		Height:    cfg.Height,
		SizeBytes: int64(len(data)),
		CreatedAt: s.now().UTC(),
	}
	u.Path = artifact.UploadPath(u.ID, ext)

	if _, err := s.blobs.Write(u.Path, bytes.NewReader(data)); err != nil {
		return nil, err
	}
	if err := s.uploads.Create(ctx, u); err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"component": "upload",
		"upload_id": u.ID.String(),
		"format":    format,
		"width":     u.Width,
		"height":    u.Height,
		"bytes":     u.SizeBytes,
	}).Info("upload stored")
	return u, nil
}
