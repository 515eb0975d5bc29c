// Package blob implements the object store media values travel through.
//
// Binary payloads never flow through workflow state directly: a payload is
// written once, addressed by an opaque id, and passed between nodes as a
// small Ref. Downloads go through presigned, expiring URLs.
package blob

import "time"

// Ref is the wire representation of a stored object.
type Ref struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	Filename string `json:"filename,omitempty"`
}

// File is the runtime representation handed to node implementations: the
// payload itself plus its content type.
type File struct {
	Data     []byte `json:"data"`
	MimeType string `json:"mime_type"`
	Filename string `json:"filename,omitempty"`
}

// Size returns the payload length in bytes.
func (f *File) Size() int64 { return int64(len(f.Data)) }

// Meta describes a stored object.
type Meta struct {
	ID             string    `json:"id"`
	MimeType       string    `json:"mime_type"`
	Size           int64     `json:"size"`
	Filename       string    `json:"filename,omitempty"`
	OrganizationID string    `json:"organization_id,omitempty"`
	ExecutionID    string    `json:"execution_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Ref returns the wire reference for this object.
func (m Meta) Ref() Ref {
	return Ref{ID: m.ID, MimeType: m.MimeType, Filename: m.Filename}
}

// RefFromValue recognizes a Ref in any of the shapes it takes after crossing
// a JSON boundary.
func RefFromValue(v any) (Ref, bool) {
	switch r := v.(type) {
	case Ref:
		return r, r.ID != ""
	case *Ref:
		if r == nil {
			return Ref{}, false
		}
		return *r, r.ID != ""
	case map[string]any:
		id, _ := r["id"].(string)
		mime, _ := r["mime_type"].(string)
		if id == "" || mime == "" {
			return Ref{}, false
		}
		filename, _ := r["filename"].(string)
		return Ref{ID: id, MimeType: mime, Filename: filename}, true
	}
	return Ref{}, false
}
