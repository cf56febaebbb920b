// Package intake validates candidate uploads before anything is persisted.
package intake

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrFileTooLarge is returned when an upload exceeds the configured maximum.
	ErrFileTooLarge = errors.New("file too large")
	// ErrUnsupportedType is returned when the declared MIME type is not allowed.
	ErrUnsupportedType = errors.New("unsupported file type")
)

// Validator enforces size and type constraints on incoming uploads.
type Validator struct {
	maxSize int64
	allowed map[string]struct{}
}

// NewValidator constructs a Validator from the configured limits.
func NewValidator(maxSize int64, allowedTypes []string) *Validator {
	allowed := make(map[string]struct{}, len(allowedTypes))
	for _, t := range allowedTypes {
		allowed[strings.ToLower(strings.TrimSpace(t))] = struct{}{}
	}
	return &Validator{maxSize: maxSize, allowed: allowed}
}

// Decision is an accepted upload with its storage-assigned name.
type Decision struct {
	StoredName string
}

// Validate checks the declared size and MIME type and, when accepted, assigns
// a sanitized collision-resistant stored name. It has no side effects; byte
// storage is the caller's job.
func (v *Validator) Validate(originalName, mimeType string, size int64) (Decision, error) {
	if size > v.maxSize {
		return Decision{}, fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrFileTooLarge, size, v.maxSize)
	}
	if _, ok := v.allowed[strings.ToLower(strings.TrimSpace(mimeType))]; !ok {
		return Decision{}, fmt.Errorf("%w: %s", ErrUnsupportedType, mimeType)
	}
	return Decision{StoredName: storedName(originalName)}, nil
}

// storedName derives a name unique with overwhelming probability across
// concurrent uploads: upload instant, random component, sanitized original.
func storedName(original string) string {
	ts := time.Now().UTC().Format("20060102T150405")
	random := strings.Split(uuid.NewString(), "-")[0]
	return fmt.Sprintf("%s-%s-%s", ts, random, sanitizeName(original))
}

// sanitizeName replaces every character other than letters, digits, '.' and
// '-' so the result is safe as an object key and a download file name.
func sanitizeName(name string) string {
	if name == "" {
		return "upload"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.' || r == '-':
			return r
		default:
			return '-'
		}
	}, name)
}
