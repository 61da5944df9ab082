package storage

import (
	"os"
	"path/filepath"
	"sort"
	"testing"
)

func tempKenv(t *testing.T) *FS {
	t.Helper()
	dir := t.TempDir()
	fs, err := NewFS(Layout{KenvPath: filepath.Join(dir, "kenv"), KitPath: filepath.Join(dir, "kit")})
	if err == nil {
		t.Fatal("expected error for missing kenv root")
	}
	if err := os.MkdirAll(filepath.Join(dir, "kenv"), 0o755); err != nil {
		t.Fatal(err)
	}
	fs, err = NewFS(Layout{KenvPath: filepath.Join(dir, "kenv"), KitPath: filepath.Join(dir, "kit")})
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	return fs
}

func TestWriteAndRead(t *testing.T) {
	s := tempKenv(t)
	p := filepath.Join(s.Layout().ScriptsDir(), "hello.js")
	content := []byte("// Name: Hello\nconsole.log(1)\n")
	if err := s.Write(p, content, false); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := s.Read(p)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != string(content) {
		t.Errorf("content mismatch: got %q", got)
	}
	if !s.Exists(p) {
		t.Error("Exists = false")
	}
}

func TestWriteExecutable(t *testing.T) {
	s := tempKenv(t)
	p := filepath.Join(s.Layout().BinDir(), "hello")
	if err := s.Write(p, []byte("#!/bin/sh\n"), true); err != nil {
		t.Fatalf("Write: %v", err)
	}
	info, err := os.Stat(p)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm()&0o100 == 0 {
		t.Errorf("mode = %v, want executable", info.Mode())
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	s := tempKenv(t)
	p := filepath.Join(s.Layout().ScriptsDir(), "del.js")
	_ = s.Write(p, []byte("bye"), false)
	if err := s.Delete(p); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Read(p); err == nil {
		t.Error("expected error reading deleted file")
	}
	if err := s.Delete(p); err != nil {
		t.Errorf("second Delete: %v", err)
	}
}

func TestPathTraversal(t *testing.T) {
	s := tempKenv(t)
	if _, err := s.Read("../../etc/passwd"); err == nil {
		t.Error("expected error for path traversal")
	}
	if err := s.Write("/etc/kitd-evil", []byte("x"), false); err == nil {
		t.Error("expected error for absolute path outside root")
	}
	if s.Exists("../outside.js") {
		t.Error("Exists should be false outside root")
	}
}

func TestListAcrossKenvs(t *testing.T) {
	s := tempKenv(t)
	l := s.Layout()
	files := []string{
		filepath.Join(l.ScriptsDir(), "a.js"),
		filepath.Join(l.ScriptsDir(), "b.ts"),
		filepath.Join(l.ScriptsDir(), "readme.md"),
		filepath.Join(l.SnippetsDir(), "sig.txt"),
		filepath.Join(l.KenvsDir(), "work", "scripts", "c.js"),
		filepath.Join(l.ScriptsDir(), "nested", "deep.js"),
	}
	for _, f := range files {
		if err := s.Write(f, []byte("// Name: x\n"), false); err != nil {
			t.Fatal(err)
		}
	}

	list, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	var got []string
	kenvs := map[string]string{}
	for _, f := range list {
		rel, _ := filepath.Rel(l.KenvPath, f.Path)
		got = append(got, filepath.ToSlash(rel))
		kenvs[filepath.Base(f.Path)] = f.Kenv
		if f.Checksum == "" {
			t.Errorf("%s: empty checksum", f.Path)
		}
	}
	sort.Strings(got)
	want := []string{"kenvs/work/scripts/c.js", "scripts/a.js", "scripts/b.ts", "snippets/sig.txt"}
	if len(got) != len(want) {
		t.Fatalf("List = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("List[%d] = %s, want %s", i, got[i], want[i])
		}
	}
	if kenvs["c.js"] != "work" || kenvs["a.js"] != "" {
		t.Errorf("kenvs = %v", kenvs)
	}
}

func TestLayoutKenvs(t *testing.T) {
	s := tempKenv(t)
	l := s.Layout()
	if len(l.Kenvs()) != 0 {
		t.Errorf("Kenvs = %v", l.Kenvs())
	}
	for _, k := range []string{"zeta", "alpha"} {
		if err := os.MkdirAll(filepath.Join(l.KenvsDir(), k), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	if got := l.Kenvs(); len(got) != 2 || got[0] != "alpha" {
		t.Errorf("Kenvs = %v", got)
	}
	if got := len(l.ScriptDirs()); got != 6 {
		t.Errorf("ScriptDirs = %d entries, want 6", got)
	}
}
