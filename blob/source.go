// Package blob specifies the external blob store interface the core chunk
// and metadata formats are written against. Concrete object-store backends
// (S3, GCS, Azure) are explicitly out of scope for this repo; only the two
// trivial implementations needed to build and test the rest of the module
// live here.
package blob

import (
	"context"

	"github.com/pkg/errors"
)

// ErrNotFound is returned (wrapped) by Get when name has never been Put.
var ErrNotFound = errors.New("blob not found")

// Source is the abstract blob store: put/get by name. Fetch errors are the
// Source's problem to retry internally if it wants to; the core never
// retries a failed Get or Put itself.
type Source interface {
	// Get returns the bytes stored under name, or a wrapped ErrNotFound.
	Get(ctx context.Context, name string) ([]byte, error)

	// Put stores data under name, replacing any existing value.
	Put(ctx context.Context, name string, data []byte) error
}

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
