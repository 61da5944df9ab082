package api

import (
	"github.com/starford/kitd/internal/index"
	"github.com/starford/kitd/internal/models"
	"github.com/starford/kitd/internal/registry"
	"github.com/starford/kitd/internal/scriptservice"
	"github.com/starford/kitd/internal/snippet"
)

// RunRequest is the request body for POST /run.
type RunRequest struct {
	Path string   `json:"path" example:"/Users/me/.kenv/scripts/hello.js" validate:"required"`
	Args []string `json:"args,omitempty"`
}

// ScriptDetail is the full script response type (aliased from the domain layer).
type ScriptDetail = scriptservice.ScriptDetail

// ScriptListResponse wraps paginated script listings.
type ScriptListResponse struct {
	Scripts []index.ScriptRow `json:"scripts" validate:"required"`
	Total   int               `json:"total" example:"42" validate:"required"`
}

// SearchResponse wraps search results.
type SearchResponse struct {
	Results []index.SearchResult `json:"results" validate:"required"`
}

// DependentsResponse lists scripts importing a path, directly or not.
type DependentsResponse struct {
	Path       string   `json:"path" validate:"required"`
	Dependents []string `json:"dependents" validate:"required"`
}

// TriggersResponse lists the registrations of one registry.
type TriggersResponse struct {
	Kind          registry.Kind           `json:"kind" example:"schedule" validate:"required"`
	Registrations []registry.Registration `json:"registrations" validate:"required"`
}

// SnippetMatchResponse lists snippets completed by a typed tail.
type SnippetMatchResponse struct {
	Tail    string          `json:"tail" validate:"required"`
	Matches []snippet.Entry `json:"matches" validate:"required"`
}

// SystemFireResponse reports how many scripts a system event started.
type SystemFireResponse struct {
	Event     string `json:"event" example:"resume" validate:"required"`
	Triggered int    `json:"triggered" example:"2"`
}

// RunResponse echoes the run request handed to the shell.
type RunResponse = models.RunRequest

// StatusResponse is the session state snapshot (aliased from the domain layer).
type StatusResponse = scriptservice.Status

// PressRequest is the request body for POST /shortcuts/press.
type PressRequest struct {
	Accelerator string `json:"accelerator" example:"cmd shift k" validate:"required"`
}

// PressResponse names the script a shortcut press started.
type PressResponse struct {
	Accelerator string `json:"accelerator" validate:"required"`
	Script      string `json:"script" validate:"required"`
}
