// Package storage defines the data-directory file abstraction shared by the
// settings and buffer stores.
package storage

import "time"

// ImagesDir is the data-directory folder holding local post images.
const ImagesDir = "images"

// FileMeta describes one file directly under the data directory.
type FileMeta struct {
	Name      string    `json:"name"`
	Checksum  string    `json:"checksum"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Provider is the interface for data-directory file operations.
type Provider interface {
	// Root returns the absolute data directory.
	Root() string
	// List returns metadata for every file with the given extension (".json").
	// An empty ext lists every regular file.
	List(ext string) ([]FileMeta, error)
	// Read returns the raw bytes of name. Missing files wrap os.ErrNotExist.
	Read(name string) ([]byte, error)
	// Write atomically replaces name with content.
	Write(name string, content []byte) error
	// Delete removes name.
	Delete(name string) error
}
