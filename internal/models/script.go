// Package models defines the domain types shared across kitd.
package models

import "time"

// EventKind is the kind of filesystem change reported by the watch backend.
type EventKind int

const (
	// EventAdd is reported when a file appears.
	EventAdd EventKind = iota
	// EventChange is reported when an existing file is written.
	EventChange
	// EventUnlink is reported when a file is removed or renamed away.
	EventUnlink
)

// String returns the lowercase name of the kind.
func (k EventKind) String() string {
	switch k {
	case EventAdd:
		return "add"
	case EventChange:
		return "change"
	case EventUnlink:
		return "unlink"
	default:
		return "unknown"
	}
}

// WatchEvent is a single classified filesystem notification.
type WatchEvent struct {
	Kind EventKind
	Path string
	At   time.Time
}

// Triggers holds the optional trigger declarations of a script header.
// Empty strings mean "not declared".
type Triggers struct {
	Shortcut   string `json:"shortcut,omitempty"`
	Schedule   string `json:"schedule,omitempty"`
	System     string `json:"system,omitempty"`
	Watch      string `json:"watch,omitempty"`
	Background string `json:"background,omitempty"`
	Snippet    string `json:"snippet,omitempty"`
}

// ScriptMetadata is the parsed header of one script file.
type ScriptMetadata struct {
	FilePath      string   `json:"path"`
	Name          string   `json:"name"`
	Command       string   `json:"command"`
	Description   string   `json:"description,omitempty"`
	Kenv          string   `json:"kenv"`
	Triggers      Triggers `json:"triggers"`
	IsTextSnippet bool     `json:"is_text_snippet,omitempty"`
	// Imports are the raw module specifiers found in import/require statements.
	Imports []string `json:"imports,omitempty"`
	// Checksum is the hex SHA-256 of the file contents.
	Checksum string `json:"checksum"`
}

// Trigger kinds carried by a RunRequest.
const (
	TriggerKit        = "kit"
	TriggerSchedule   = "schedule"
	TriggerSystem     = "system"
	TriggerWatch      = "watch"
	TriggerBackground = "background"
	TriggerSnippet    = "snippet"
	TriggerShortcut   = "shortcut"
	TriggerAPI        = "api"
)

// RunRequest asks the application shell to run a script.
type RunRequest struct {
	ID      string   `json:"id"`
	Script  string   `json:"script"`
	Args    []string `json:"args"`
	Trigger string   `json:"trigger"`
	Force   bool     `json:"force"`
}

// ScriptFile is a lightweight listing entry returned by storage.
type ScriptFile struct {
	Path      string    `json:"path"`
	Kenv      string    `json:"kenv"`
	Checksum  string    `json:"checksum"`
	UpdatedAt time.Time `json:"updated_at"`
}
