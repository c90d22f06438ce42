package filesystem

import "time"

// EntryKind distinguishes files from directories in listings.
type EntryKind string

const (
	KindFile      EntryKind = "file"
	KindDirectory EntryKind = "directory"
)

// Entry describes one file or directory under the share root. Path is the
// slash-separated relative path and doubles as the stable identifier clients
// hand back for mutations; the filesystem itself stays the source of truth,
// so entries are materialized per request and never cached.
type Entry struct {
	Name     string    `json:"name"`
	Path     string    `json:"path"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
	Kind     EntryKind `json:"kind"`
	MimeType string    `json:"mimeType,omitempty"`
}

// Listing is the result of browsing one directory.
type Listing struct {
	Path    string  `json:"path"`
	Parent  string  `json:"parent"`
	Entries []Entry `json:"entries"`
}

// UploadOptions controls collision handling and the size cap for one upload.
type UploadOptions struct {
	// MaxSize is the hard byte cap; 0 means the service default.
	MaxSize int64
	// Overwrite replaces an existing file instead of disambiguating the name.
	Overwrite bool
}
