package reload

import (
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"testing"
	"time"

	"github.com/faasdef/faasdef/config"
)

func TestUniquePathsFiltersDuplicatesAndEmptyValues(t *testing.T) {
	paths := []string{"", "/tmp/a", "/tmp/b", "/tmp/a", "/tmp/c", "/tmp/b"}
	got := uniquePaths(paths)
	want := []string{"/tmp/a", "/tmp/b", "/tmp/c"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("uniquePaths() = %v, want %v", got, want)
	}
}

func TestWatcherUpdateIncludesExistingFilesAndRoot(t *testing.T) {
	dir := t.TempDir()
	rootFile := filepath.Join(dir, "build.yaml")
	moduleFile := filepath.Join(dir, "api.yaml")

	writeFile(t, rootFile, "root")
	writeFile(t, moduleFile, "module")

	cfg := &config.Config{
		Source: config.ModuleReference{File: rootFile},
		Functions: []config.FunctionConfig{
			{Name: "handler", Source: config.ModuleReference{File: moduleFile}},
		},
	}

	var watcher Watcher
	if err := watcher.Update(rootFile, cfg); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	if len(watcher.files) != 2 {
		t.Fatalf("expected 2 tracked files, got %d", len(watcher.files))
	}
	if _, ok := watcher.files[rootFile]; !ok {
		t.Fatalf("root file %s not tracked", rootFile)
	}
	if _, ok := watcher.files[moduleFile]; !ok {
		t.Fatalf("module file %s not tracked", moduleFile)
	}
}

func TestWatcherUpdateSkipsNonDefinitionFiles(t *testing.T) {
	dir := t.TempDir()
	buildFile := filepath.Join(dir, "build.yaml")
	noteFile := filepath.Join(dir, "notes.txt")

	writeFile(t, buildFile, "root")
	writeFile(t, noteFile, "notes")

	cfg := &config.Config{
		Source: config.ModuleReference{File: buildFile},
		Functions: []config.FunctionConfig{
			{Name: "stray", Source: config.ModuleReference{File: noteFile}},
		},
	}

	var watcher Watcher
	if err := watcher.Update("", cfg); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	if len(watcher.files) != 1 {
		t.Fatalf("expected only the definition file to be tracked, got %v", watcher.files)
	}
	if _, ok := watcher.files[noteFile]; ok {
		t.Fatalf("non-definition file %s must not be tracked", noteFile)
	}
}

func TestWatcherCheckDetectsChangesAndRemovals(t *testing.T) {
	dir := t.TempDir()
	fileA := filepath.Join(dir, "a.yaml")
	fileB := filepath.Join(dir, "b.yaml")
	writeFile(t, fileA, "first")
	writeFile(t, fileB, "second")

	cfg := &config.Config{
		Source: config.ModuleReference{File: fileA},
		Functions: []config.FunctionConfig{
			{Name: "b", Source: config.ModuleReference{File: fileB}},
		},
	}

	watcher, err := NewWatcher("", cfg)
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}

	if changed, err := watcher.Check(); err != nil {
		t.Fatalf("Check() error = %v", err)
	} else if len(changed) != 0 {
		t.Fatalf("expected no changes on first check, got %v", changed)
	}

	time.Sleep(10 * time.Millisecond)
	writeFile(t, fileA, "first-UPDATED")
	if err := os.Remove(fileB); err != nil {
		t.Fatalf("Remove(%s) error = %v", fileB, err)
	}

	changed, err := watcher.Check()
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}

	sort.Strings(changed)
	expected := []string{fileA, fileB}
	sort.Strings(expected)
	if !reflect.DeepEqual(changed, expected) {
		t.Fatalf("Check() = %v, want %v", changed, expected)
	}
}

func TestWatcherHandlesNilReceiver(t *testing.T) {
	var watcher *Watcher
	if err := watcher.Update("", &config.Config{}); err != nil {
		t.Fatalf("nil watcher Update() error = %v", err)
	}
	if changed, err := watcher.Check(); err != nil {
		t.Fatalf("nil watcher Check() error = %v", err)
	} else if changed != nil {
		t.Fatalf("expected nil slice from nil watcher, got %v", changed)
	}
}

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile(%s) error = %v", path, err)
	}
}
