// Package event defines the activity events that drive outbound notifications.
//
// Activity events are produced by the surrounding application (view tracking,
// dataroom access control, download handlers) and handed to the courier. They
// are ephemeral: the courier never persists them, only the delivery jobs and
// audit records derived from them.
package event

import "github.com/supermarkhq/courier/id"

// Type identifies the kind of activity that occurred.
type Type string

// The closed set of activity event types that can produce notifications.
const (
	// TypeDocumentView fires when a document is viewed through a shared link
	// or inside a dataroom.
	TypeDocumentView Type = "document_view"

	// TypeDataroomAccess fires when a viewer enters a dataroom.
	TypeDataroomAccess Type = "dataroom_access"

	// TypeDocumentDownload fires when a document, folder, or whole dataroom
	// is downloaded.
	TypeDocumentDownload Type = "document_download"
)

// Types lists all known event types.
var Types = []Type{TypeDocumentView, TypeDataroomAccess, TypeDocumentDownload}

// Valid reports whether t is a known event type.
func (t Type) Valid() bool {
	switch t {
	case TypeDocumentView, TypeDataroomAccess, TypeDocumentDownload:
		return true
	}
	return false
}

// ActivityEvent describes one piece of document or dataroom activity.
//
// At least one of DocumentID/DataroomID is usually present, but consumers
// must degrade gracefully when either is absent.
type ActivityEvent struct {
	// ID uniquely identifies this event emission. Assigned by the courier
	// on first use when the producer leaves it nil; producers that retry
	// emission should set it themselves so duplicates collapse on enqueue.
	ID id.ID `json:"id"`

	// TeamID identifies the team whose content was accessed.
	TeamID string `json:"team_id"`

	// Type is the kind of activity.
	Type Type `json:"type"`

	DocumentID string `json:"document_id,omitempty"`
	DataroomID string `json:"dataroom_id,omitempty"`
	ViewID     string `json:"view_id,omitempty"`
	LinkID     string `json:"link_id,omitempty"`

	// ViewerEmail is the email the viewer verified with, if any.
	ViewerEmail string `json:"viewer_email,omitempty"`
	ViewerID    string `json:"viewer_id,omitempty"`
	UserID      string `json:"user_id,omitempty"`

	// Metadata carries free-form event context, e.g. bulk/folder download
	// flags and document counts.
	Metadata Metadata `json:"metadata,omitempty"`
}

// Metadata is the free-form context attached to an activity event.
type Metadata map[string]any

// Bool returns the named metadata entry as a bool, false when absent or of
// another type.
func (m Metadata) Bool(key string) bool {
	v, _ := m[key].(bool)
	return v
}

// String returns the named metadata entry as a string, "" when absent.
func (m Metadata) String(key string) string {
	v, _ := m[key].(string)
	return v
}

// Int returns the named metadata entry as an int, 0 when absent. JSON
// round-tripping stores numbers as float64, so both forms are accepted.
func (m Metadata) Int(key string) int {
	switch v := m[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// Metadata keys set by the download handlers.
const (
	MetaBulkDownload   = "isBulkDownload"
	MetaFolderDownload = "isFolderDownload"
	MetaFolderName     = "folderName"
	MetaDocumentCount  = "documentCount"
)
