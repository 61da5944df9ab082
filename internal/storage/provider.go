// Package storage defines access to script files under the kenv directory.
package storage

import "github.com/starford/kitd/internal/models"

// Provider is the interface for script file operations. Paths are absolute
// and must lie under the kenv root.
type Provider interface {
	// List returns metadata for every script and text snippet across all
	// script directories, one level deep.
	List() ([]models.ScriptFile, error)
	// Read returns the raw bytes of the file at path.
	Read(path string) ([]byte, error)
	// Exists reports whether path is a regular file.
	Exists(path string) bool
	// Write atomically writes content to path with the given mode.
	Write(path string, content []byte, executable bool) error
	// Delete removes the file at path. Missing files are not an error.
	Delete(path string) error
}
