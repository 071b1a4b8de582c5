package service_test

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sharp-job-service/internal/artifact"
	"sharp-job-service/internal/entity"
	"sharp-job-service/internal/service"
	"sharp-job-service/internal/testutil"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func newUploadService(t *testing.T, maxBytes int64) (*service.UploadService, *artifact.Store, *testutil.UploadStore) {
	t.Helper()
	store, err := artifact.NewStore(afero.NewMemMapFs(), "/data")
	require.NoError(t, err)
	uploads := testutil.NewUploadStore()
	return service.NewUploadService(uploads, store, maxBytes), store, uploads
}

func TestUploadService_Save(t *testing.T) {
	svc, store, uploads := newUploadService(t, 1<<20)
	data := pngBytes(t, 32, 16)

	u, err := svc.Save(context.Background(), `C:\Users\me\My Photo.PNG`, bytes.NewReader(data))
	require.NoError(t, err)

	assert.Equal(t, "My Photo.PNG", u.Filename)
	assert.Equal(t, 32, u.Width)
	assert.Equal(t, 16, u.Height)
	assert.Equal(t, int64(len(data)), u.SizeBytes)
	assert.Equal(t, "uploads/"+u.ID.String()+".png", u.Path)

	stored, err := store.ReadFile(u.Path)
	require.NoError(t, err)
	assert.Equal(t, data, stored)

	got, err := uploads.GetByID(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Equal(t, u.Path, got.Path)
}

func TestUploadService_Rejects(t *testing.T) {
	svc, _, _ := newUploadService(t, 1024)

	tests := []struct {
		name     string
		filename string
		body     []byte
	}{
		{"bad extension", "script.exe", pngBytes(t, 2, 2)},
		{"not an image", "photo.png", []byte("definitely not a png")},
		{"empty", "photo.png", nil},
		{"too large", "photo.png", bytes.Repeat([]byte{0}, 2048)},
		{"no name", "", pngBytes(t, 2, 2)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Save(context.Background(), tt.filename, bytes.NewReader(tt.body))
			assert.ErrorIs(t, err, entity.ErrInvalidInput)
		})
	}
}

func TestUploadService_NULTruncation(t *testing.T) {
	svc, _, _ := newUploadService(t, 1<<20)
	u, err := svc.Save(context.Background(), "cat.png\x00.exe", strings.NewReader(string(pngBytes(t, 4, 4))))
	require.NoError(t, err)
	assert.Equal(t, "cat.png", u.Filename)
}
