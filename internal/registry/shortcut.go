package registry

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/starford/kitd/internal/apperr"
	"github.com/starford/kitd/internal/models"
)

// Binder installs global keyboard shortcuts with the OS.
type Binder interface {
	Bind(accel string) error
	Unbind(accel string)
}

type nopBinder struct{}

func (nopBinder) Bind(string) error { return nil }
func (nopBinder) Unbind(string)     {}

var modifierNames = map[string]string{
	"cmd":     "Cmd",
	"command": "Cmd",
	"meta":    "Cmd",
	"super":   "Cmd",
	"ctrl":    "Ctrl",
	"control": "Ctrl",
	"opt":     "Alt",
	"option":  "Alt",
	"alt":     "Alt",
	"shift":   "Shift",
}

var modifierOrder = []string{"Cmd", "Ctrl", "Alt", "Shift"}

var namedKeys = map[string]string{
	"space":     "Space",
	"enter":     "Enter",
	"return":    "Enter",
	"tab":       "Tab",
	"esc":       "Escape",
	"escape":    "Escape",
	"backspace": "Backspace",
	"delete":    "Delete",
	"up":        "Up",
	"down":      "Down",
	"left":      "Left",
	"right":     "Right",
	"home":      "Home",
	"end":       "End",
	"pageup":    "PageUp",
	"pagedown":  "PageDown",
	"plus":      "Plus",
}

// ParseAccelerator canonicalises a shortcut such as "cmd shift k" or
// "Shift+Cmd+K" into "Cmd+Shift+K". It requires exactly one non-modifier key
// and at least one modifier unless the key is a function key.
func ParseAccelerator(s string) (string, error) {
	fields := strings.FieldsFunc(strings.TrimSpace(s), func(r rune) bool {
		return r == '+' || r == ' ' || r == '\t'
	})
	if len(fields) == 0 {
		return "", fmt.Errorf("shortcut: empty accelerator: %w", apperr.ErrInvalidTrigger)
	}

	mods := make(map[string]bool)
	key := ""
	for _, f := range fields {
		lf := strings.ToLower(f)
		if m, ok := modifierNames[lf]; ok {
			mods[m] = true
			continue
		}
		if key != "" {
			return "", fmt.Errorf("shortcut: %q has more than one key: %w", s, apperr.ErrInvalidTrigger)
		}
		k, ok := canonicalKey(lf)
		if !ok {
			return "", fmt.Errorf("shortcut: unknown key %q: %w", f, apperr.ErrInvalidTrigger)
		}
		key = k
	}
	if key == "" {
		return "", fmt.Errorf("shortcut: %q has no key: %w", s, apperr.ErrInvalidTrigger)
	}
	if len(mods) == 0 && !isFunctionKey(key) {
		return "", fmt.Errorf("shortcut: %q needs a modifier: %w", s, apperr.ErrInvalidTrigger)
	}

	parts := make([]string, 0, len(mods)+1)
	for _, m := range modifierOrder {
		if mods[m] {
			parts = append(parts, m)
		}
	}
	return strings.Join(append(parts, key), "+"), nil
}

func canonicalKey(k string) (string, bool) {
	if n, ok := namedKeys[k]; ok {
		return n, true
	}
	if isFunctionKey(strings.ToUpper(k)) {
		return strings.ToUpper(k), true
	}
	r := []rune(k)
	if len(r) != 1 {
		return "", false
	}
	if r[0] >= 'a' && r[0] <= 'z' {
		return strings.ToUpper(k), true
	}
	if r[0] > ' ' && r[0] < 0x7f {
		return k, true
	}
	return "", false
}

func isFunctionKey(k string) bool {
	if len(k) < 2 || k[0] != 'F' {
		return false
	}
	n := 0
	for _, c := range k[1:] {
		if c < '0' || c > '9' {
			return false
		}
		n = n*10 + int(c-'0')
	}
	return n >= 1 && n <= 24
}

// Shortcuts maps accelerators to the scripts they launch. One accelerator has
// at most one owner; the newest registration wins.
type Shortcuts struct {
	binder Binder
	emit   Emitter
	logger *slog.Logger

	byPath  map[string]string
	byAccel map[string]string
	main    string
}

// NewShortcuts returns an empty shortcut registry. A nil binder accepts
// every accelerator.
func NewShortcuts(binder Binder, emit Emitter, logger *slog.Logger) *Shortcuts {
	if binder == nil {
		binder = nopBinder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Shortcuts{
		binder:  binder,
		emit:    emit,
		logger:  logger,
		byPath:  make(map[string]string),
		byAccel: make(map[string]string),
	}
}

func (r *Shortcuts) Kind() Kind { return KindShortcut }

func (r *Shortcuts) Register(path string, meta *models.ScriptMetadata) error {
	r.Unregister(path)
	if meta == nil || meta.Triggers.Shortcut == "" {
		return nil
	}

	accel, err := ParseAccelerator(meta.Triggers.Shortcut)
	if err != nil {
		r.logger.Warn("registry: invalid shortcut",
			slog.String("path", path),
			slog.String("shortcut", meta.Triggers.Shortcut),
			slog.String("error", err.Error()),
		)
		return nil
	}
	if accel == r.main {
		r.logger.Warn("registry: shortcut reserved for main prompt",
			slog.String("path", path), slog.String("shortcut", accel))
		return nil
	}
	if prev, taken := r.byAccel[accel]; taken {
		r.logger.Warn("registry: shortcut conflict, newest wins",
			slog.String("path", path),
			slog.String("previous", prev),
			slog.String("shortcut", accel),
		)
		r.Unregister(prev)
	}

	if err := r.binder.Bind(accel); err != nil {
		return fmt.Errorf("shortcut: bind %s: %w", accel, err)
	}
	r.byPath[path] = accel
	r.byAccel[accel] = path
	return nil
}

func (r *Shortcuts) Unregister(path string) {
	accel, ok := r.byPath[path]
	if !ok {
		return
	}
	r.binder.Unbind(accel)
	delete(r.byPath, path)
	delete(r.byAccel, accel)
}

func (r *Shortcuts) Has(path string) bool {
	_, ok := r.byPath[path]
	return ok
}

func (r *Shortcuts) List() []Registration {
	return sortedRegistrations(r.byPath)
}

// Owner returns the script bound to accel.
func (r *Shortcuts) Owner(accel string) (string, bool) {
	canon, err := ParseAccelerator(accel)
	if err != nil {
		return "", false
	}
	p, ok := r.byAccel[canon]
	return p, ok
}

// Press emits a run request for the owner of accel, as the OS does when the
// shortcut is typed.
func (r *Shortcuts) Press(accel string) bool {
	p, ok := r.Owner(accel)
	if !ok {
		return false
	}
	r.emit.emit(p, models.TriggerShortcut)
	return true
}

// SetMain binds the shortcut that opens the main prompt. A script holding
// the same accelerator loses it. An empty accel clears the main binding. The
// previous main binding is released only once the new one is in place.
func (r *Shortcuts) SetMain(accel string) error {
	canon := ""
	if accel != "" {
		var err error
		if canon, err = ParseAccelerator(accel); err != nil {
			return err
		}
	}
	if canon == r.main {
		return nil
	}
	if canon != "" {
		if owner, taken := r.byAccel[canon]; taken {
			// The OS binding already exists; the main prompt takes it over.
			r.logger.Warn("registry: main shortcut displaces script",
				slog.String("path", owner), slog.String("shortcut", canon))
			delete(r.byPath, owner)
			delete(r.byAccel, canon)
		} else if err := r.binder.Bind(canon); err != nil {
			return fmt.Errorf("shortcut: bind main %s: %w", canon, err)
		}
	}
	if r.main != "" {
		r.binder.Unbind(r.main)
	}
	r.main = canon
	return nil
}

// Main returns the current main accelerator.
func (r *Shortcuts) Main() string {
	return r.main
}
