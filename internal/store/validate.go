package store

import (
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/walink/internal/errs"
)

// MaxSessionIDLength is the maximum allowed length for session identifiers.
// Matches the VARCHAR(255) constraint in the database schema.
const MaxSessionIDLength = 255

// ValidateSessionID checks that a session id is non-empty, fits the schema and
// is safe to use as a single path component for file storage.
func ValidateSessionID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: session id is empty", errs.ErrInvalidInput)
	}
	if len(id) > MaxSessionIDLength {
		return fmt.Errorf("%w: session id too long: %d chars (max %d)", errs.ErrInvalidInput, len(id), MaxSessionIDLength)
	}
	if id == "." || id == ".." || strings.ContainsAny(id, `/\`) || strings.ContainsRune(id, 0) {
		return fmt.Errorf("%w: session id %q is not a valid path component", errs.ErrInvalidInput, id)
	}
	return nil
}
