package artifact

import (
	"fmt"
	"path"
	"regexp"
	"strings"

	"sharp-job-service/internal/entity"
)

var filenameRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

const maxFilenameLen = 255

// ValidateFilename rejects anything that is not a plain file name, before
// it gets near the store.
func ValidateFilename(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("filename is required: %w", entity.ErrInvalidInput)
	case len(name) > maxFilenameLen:
		return fmt.Errorf("filename too long: %w", entity.ErrInvalidInput)
	case strings.Contains(name, ".."):
		return fmt.Errorf("filename %q: path traversal: %w", name, entity.ErrInvalidInput)
	case !filenameRe.MatchString(name):
		return fmt.Errorf("filename %q: invalid characters: %w", name, entity.ErrInvalidInput)
	}
	return nil
}

// AllowedImageExts is the upload allow-list.
var AllowedImageExts = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".webp": true,
	".gif":  true,
}

// SanitizeUploadName keeps the base name of a client-supplied filename,
// cut at the first NUL, and returns it with its lower-cased extension.
func SanitizeUploadName(name string) (clean, ext string, err error) {
	if i := strings.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}
	name = strings.ReplaceAll(name, "\\", "/")
	clean = path.Base(strings.TrimSpace(name))
	if clean == "." || clean == "/" || clean == "" {
		return "", "", fmt.Errorf("filename is required: %w", entity.ErrInvalidInput)
	}
	if len(clean) > maxFilenameLen {
		clean = clean[len(clean)-maxFilenameLen:]
	}

	ext = strings.ToLower(path.Ext(clean))
	if !AllowedImageExts[ext] {
		return "", "", fmt.Errorf("file type %q not allowed: %w", ext, entity.ErrInvalidInput)
	}
	return clean, ext, nil
}
