package blob

import (
	"context"
	"fmt"
	"time"
)

// Storage key layout. Object ids are opaque to callers; these keys are the
// store-side addresses.
const (
	dataKeyFormat = "objects/%s/object.data"
	metaKeyFormat = "objects/%s/object.meta"
)

// DataKey returns the storage key of an object's payload.
func DataKey(id string) string { return fmt.Sprintf(dataKeyFormat, id) }

// MetaKey returns the storage key of an object's metadata.
func MetaKey(id string) string { return fmt.Sprintf(metaKeyFormat, id) }

// DefaultMimeType is applied when a writer does not declare a content type.
const DefaultMimeType = "application/octet-stream"

// NotFoundError reports a lookup of an id the store has never seen.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("object not found: %s", e.ID)
}

// WriteOptions carries optional attribution recorded with a new object.
type WriteOptions struct {
	Filename       string
	OrganizationID string
	ExecutionID    string
}

// Store is the object store interface node values are marshaled through.
type Store interface {
	// Write stores a payload and returns its reference. Ids are generated,
	// globally unique and never reused.
	Write(ctx context.Context, data []byte, mimeType string, opts WriteOptions) (Ref, error)

	// Read returns the payload and metadata for an id. Unknown ids yield
	// *NotFoundError.
	Read(ctx context.Context, id string) ([]byte, Meta, error)

	// Stat returns metadata without fetching the payload.
	Stat(ctx context.Context, id string) (Meta, error)

	// Presign returns an expiring download URL for an id. A zero expiry
	// selects the configured default; requests beyond the maximum clamp.
	Presign(ctx context.Context, id string, expiry time.Duration) (string, error)

	// WriteAndPresign stores a payload and immediately returns both the
	// reference and a download URL with the default expiry.
	WriteAndPresign(ctx context.Context, data []byte, mimeType string, opts WriteOptions) (Ref, string, error)
}
