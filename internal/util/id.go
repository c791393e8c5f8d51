package util

import (
	"strings"

	"github.com/google/uuid"
)

// NewID returns 32 lowercase hex characters, used for request ids.
func NewID() string {
	id := uuid.New()
	return strings.ReplaceAll(id.String(), "-", "")
}
