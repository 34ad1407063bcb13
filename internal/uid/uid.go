// Package uid generates the random tokens that prefix staging keys.
package uid

import (
	"strings"

	"github.com/google/uuid"
)

// New returns a 32-character hex token backed by a random (v4) UUID.
func New() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
