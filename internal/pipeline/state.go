package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"net/http"
	"net/url"
	"time"
)

// AppConfig is the free-form application settings object from app.json.
type AppConfig map[string]any

// User is the signed-in account from user.json.
type User struct {
	Login   string `json:"login"`
	Name    string `json:"name,omitempty"`
	Email   string `json:"email,omitempty"`
	Sponsor bool   `json:"sponsor"`
}

// State is the shared session state rebuilt from the state files.
type State struct {
	Env          map[string]string
	App          AppConfig
	User         User
	MainShortcut string
}

// NewState returns empty state.
func NewState() *State {
	return &State{Env: map[string]string{}, App: AppConfig{}}
}

// Snapshot returns a deep-enough copy for handing to other goroutines.
func (s *State) Snapshot() State {
	return State{
		Env:          maps.Clone(s.Env),
		App:          maps.Clone(s.App),
		User:         s.User,
		MainShortcut: s.MainShortcut,
	}
}

// SponsorChecker reports whether a login has an active sponsorship.
type SponsorChecker interface {
	IsSponsor(ctx context.Context, login string) (bool, error)
}

// HTTPSponsorChecker asks a remote endpoint about a login. The endpoint
// receives ?login=<login> and answers {"sponsor": bool}.
type HTTPSponsorChecker struct {
	URL    string
	Client *http.Client
}

func (h HTTPSponsorChecker) IsSponsor(ctx context.Context, login string) (bool, error) {
	client := h.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	u, err := url.Parse(h.URL)
	if err != nil {
		return false, fmt.Errorf("sponsor: parse url: %w", err)
	}
	q := u.Query()
	q.Set("login", login)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return false, fmt.Errorf("sponsor: new request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return false, fmt.Errorf("sponsor: request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("sponsor: unexpected status %d", resp.StatusCode)
	}
	var body struct {
		Sponsor bool `json:"sponsor"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false, fmt.Errorf("sponsor: decode: %w", err)
	}
	return body.Sponsor, nil
}
