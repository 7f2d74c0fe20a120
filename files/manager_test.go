package files

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestIsGCode(t *testing.T) {
	tests := map[string]bool{
		"a.gcode": true,
		"A.GCO":   true,
		"b.g":     true,
		"c.stl":   false,
		"gcode":   false,
	}
	for name, want := range tests {
		if got := IsGCode(name); got != want {
			t.Errorf("IsGCode(%q) = %v", name, got)
		}
	}
}

func TestListSkipsArchiveAndOtherFiles(t *testing.T) {
	root := t.TempDir()
	done := filepath.Join(root, "done")
	m, err := NewManager(root, done)
	if err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(root, "b.gcode"), "M104 S210\nG28\n")
	writeFile(t, filepath.Join(root, "sub", "a.g"), "G28\n")
	writeFile(t, filepath.Join(root, "notes.txt"), "x")
	writeFile(t, filepath.Join(done, "old.gcode"), "G28\n")

	list, err := m.List(true)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].Path != "b.gcode" || list[1].Path != "sub/a.g" {
		t.Fatalf("list = %+v", list)
	}
	if list[0].Meta == nil || list[0].Meta.TargetTemperature != 210 {
		t.Errorf("meta = %+v", list[0].Meta)
	}
}

func TestResolve(t *testing.T) {
	root := t.TempDir()
	m, err := NewManager(root, "")
	if err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(root, "part.gcode"), "G28\n")

	got, err := m.Resolve("part.gcode")
	if err != nil || got != filepath.Join(root, "part.gcode") {
		t.Errorf("Resolve = %q, %v", got, err)
	}
	if _, err := m.Resolve("missing.gcode"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := m.Resolve("../../etc/passwd"); err == nil {
		t.Error("expected traversal to be rejected")
	}
}

func TestArchive(t *testing.T) {
	root := t.TempDir()
	done := filepath.Join(t.TempDir(), "done")
	m, err := NewManager(root, done)
	if err != nil {
		t.Fatal(err)
	}

	first := filepath.Join(root, "p.gcode")
	writeFile(t, first, "G28\n")
	dest, err := m.Archive(first)
	if err != nil {
		t.Fatal(err)
	}
	if dest != filepath.Join(done, "p.gcode") {
		t.Errorf("dest = %q", dest)
	}
	if _, err := os.Stat(first); !os.IsNotExist(err) {
		t.Error("source still present")
	}

	writeFile(t, first, "G28\n")
	dest2, err := m.Archive(first)
	if err != nil {
		t.Fatal(err)
	}
	if dest2 == dest {
		t.Error("clash not renamed")
	}
}
