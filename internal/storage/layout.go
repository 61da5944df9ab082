package storage

import (
	"os"
	"path/filepath"
	"sort"
)

// Layout locates the kit and kenv directories.
//
//	<kenv>/scripts/*.js          root kenv scripts
//	<kenv>/snippets/*.txt        root kenv text snippets
//	<kenv>/kenvs/<name>/scripts  sub-kenv scripts
//	<kenv>/bin/<command>         generated launcher stubs
//	<kenv>/.scripts/<command>.js build output
//	<kenv>/.env                  environment
//	<kit>/run.txt                run request file
//	<kit>/db/{app,user,shortcuts}.json
type Layout struct {
	KenvPath string
	KitPath  string
}

func (l Layout) ScriptsDir() string  { return filepath.Join(l.KenvPath, "scripts") }
func (l Layout) SnippetsDir() string { return filepath.Join(l.KenvPath, "snippets") }
func (l Layout) KenvsDir() string    { return filepath.Join(l.KenvPath, "kenvs") }
func (l Layout) BinDir() string      { return filepath.Join(l.KenvPath, "bin") }
func (l Layout) BuildDir() string    { return filepath.Join(l.KenvPath, ".scripts") }
func (l Layout) EnvFile() string     { return filepath.Join(l.KenvPath, ".env") }
func (l Layout) RunFile() string     { return filepath.Join(l.KitPath, "run.txt") }
func (l Layout) AppFile() string     { return filepath.Join(l.KitPath, "db", "app.json") }
func (l Layout) UserFile() string    { return filepath.Join(l.KitPath, "db", "user.json") }

func (l Layout) ShortcutsFile() string {
	return filepath.Join(l.KitPath, "db", "shortcuts.json")
}

// StateFiles lists the individual files the watcher follows besides scripts.
func (l Layout) StateFiles() []string {
	return []string{l.EnvFile(), l.AppFile(), l.UserFile(), l.ShortcutsFile(), l.RunFile()}
}

// KenvDirs returns the script and snippet directories of the named sub-kenv.
func (l Layout) KenvDirs(name string) []string {
	base := filepath.Join(l.KenvsDir(), name)
	return []string{filepath.Join(base, "scripts"), filepath.Join(base, "snippets")}
}

// Kenvs lists the sub-kenv names currently on disk.
func (l Layout) Kenvs() []string {
	entries, err := os.ReadDir(l.KenvsDir())
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out
}

// ScriptDirs returns every directory that may hold scripts, existing or not.
func (l Layout) ScriptDirs() []string {
	dirs := []string{l.ScriptsDir(), l.SnippetsDir()}
	for _, k := range l.Kenvs() {
		dirs = append(dirs, l.KenvDirs(k)...)
	}
	return dirs
}
