package entity

import (
	"time"

	"github.com/google/uuid"
)

// Upload is an input image accepted by the upload endpoint. Immutable after creation.
type Upload struct {
	ID        uuid.UUID `json:"id"`
	Path      string    `json:"path"` // store-relative, uploads/{id}{ext}
	Filename  string    `json:"filename"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	SizeBytes int64     `json:"size_bytes"`
	CreatedAt time.Time `json:"created_at"`
}
