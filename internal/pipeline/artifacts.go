package pipeline

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/starford/kitd/internal/storage"
)

// Builder compiles a build-required source into the build directory.
type Builder interface {
	Build(ctx context.Context, src string) error
	// Output returns where the build of src is written.
	Output(src string) string
}

// CommandBuilder runs an external compiler. "{src}" and "{out}" in Args are
// replaced with the source path and the output path.
type CommandBuilder struct {
	Command string
	Args    []string
	OutDir  string
}

func (b CommandBuilder) Output(src string) string {
	return filepath.Join(b.OutDir, stem(src)+".js")
}

func (b CommandBuilder) Build(ctx context.Context, src string) error {
	out := b.Output(src)
	args := make([]string, len(b.Args))
	for i, a := range b.Args {
		a = strings.ReplaceAll(a, "{src}", src)
		args[i] = strings.ReplaceAll(a, "{out}", out)
	}
	cmd := exec.CommandContext(ctx, b.Command, args...)
	if combined, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("build %s: %w: %s", src, err, strings.TrimSpace(string(combined)))
	}
	return nil
}

// BinStubs writes the shell launchers placed in the kenv bin directory so a
// script can be run from a terminal by its command name.
type BinStubs struct {
	store  storage.Provider
	layout storage.Layout
}

// NewBinStubs returns a BinStubs writing through store.
func NewBinStubs(store storage.Provider, layout storage.Layout) *BinStubs {
	return &BinStubs{store: store, layout: layout}
}

// Path returns the stub location for a script.
func (b *BinStubs) Path(script string) string {
	return filepath.Join(b.layout.BinDir(), stem(script))
}

// Write creates or replaces the stub for script.
func (b *BinStubs) Write(script string) error {
	content := fmt.Sprintf("#!/usr/bin/env bash\n# Generated by kitd. Do not edit.\nexec %q %q \"$@\"\n",
		filepath.Join(b.layout.KitPath, "bin", "kit"), script)
	if err := b.store.Write(b.Path(script), []byte(content), true); err != nil {
		return fmt.Errorf("bin stub %s: %w", script, err)
	}
	return nil
}

// Remove deletes the stub for script. A missing stub is not an error.
func (b *BinStubs) Remove(script string) error {
	return b.store.Delete(b.Path(script))
}

func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
