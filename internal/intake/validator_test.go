package intake

import (
	"errors"
	"strings"
	"testing"

	"github.com/recruitly/cvsync/internal/model"
)

func newTestValidator() *Validator {
	return NewValidator(10<<20, []string{model.MIMEPDF, model.MIMEWordLegacy, model.MIMEWordOpenXML})
}

func TestValidateRejectsOversizedFile(t *testing.T) {
	v := newTestValidator()
	_, err := v.Validate("resume.pdf", model.MIMEPDF, 10<<20+1)
	if !errors.Is(err, ErrFileTooLarge) {
		t.Fatalf("expected ErrFileTooLarge, got %v", err)
	}
}

func TestValidateRejectsUnsupportedType(t *testing.T) {
	v := newTestValidator()
	// Type check is independent of size.
	_, err := v.Validate("resume.png", "image/png", 12)
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("expected ErrUnsupportedType, got %v", err)
	}
}

func TestValidateAcceptsAllowedTypes(t *testing.T) {
	v := newTestValidator()
	for _, mime := range []string{model.MIMEPDF, model.MIMEWordLegacy, model.MIMEWordOpenXML} {
		if _, err := v.Validate("resume.pdf", mime, 1024); err != nil {
			t.Fatalf("expected %s to be accepted, got %v", mime, err)
		}
	}
}

func TestStoredNameSanitizesOriginal(t *testing.T) {
	v := newTestValidator()
	dec, err := v.Validate("my résumé (final)!.pdf", model.MIMEPDF, 1024)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if strings.ContainsAny(dec.StoredName, " ()!é") {
		t.Fatalf("stored name not sanitized: %q", dec.StoredName)
	}
	if !strings.HasSuffix(dec.StoredName, ".pdf") {
		t.Fatalf("stored name should keep extension: %q", dec.StoredName)
	}
}

func TestStoredNamesAreUnique(t *testing.T) {
	v := newTestValidator()
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		dec, err := v.Validate("resume.pdf", model.MIMEPDF, 1024)
		if err != nil {
			t.Fatalf("validate: %v", err)
		}
		if seen[dec.StoredName] {
			t.Fatalf("duplicate stored name %q", dec.StoredName)
		}
		seen[dec.StoredName] = true
	}
}
