package source

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleRules = `
protected_categories:
  - safety
rules:
  - id: safety-rm
    category: safety
    priority: 50
    level: block
    events: [pre_tool]
    require: [cmd.recursive_delete]
    message: recursive delete blocked
  - id: hygiene-force
    category: hygiene
    priority: 10
    level: warn
    events: [pre_tool]
    require: [cmd.force_flag]
`

func TestFileSourceLoadsSingleFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	if err := os.WriteFile(path, []byte(sampleRules), 0o644); err != nil {
		t.Fatalf("write rule file: %v", err)
	}

	src := NewFileSource(path, slog.New(slog.NewTextHandler(io.Discard, nil)))
	set, err := src.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(set.Definitions) != 2 {
		t.Fatalf("definitions = %d, want 2", len(set.Definitions))
	}
	if set.Definitions[0].ID != "safety-rm" || set.Definitions[0].Level != "block" {
		t.Errorf("first definition = %+v", set.Definitions[0])
	}
	if len(set.Protected) != 1 || set.Protected[0] != "safety" {
		t.Errorf("protected = %v, want [safety]", set.Protected)
	}
}

func TestFileSourceLoadsDirectoryInLexicalOrder(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"20-extra.yaml": "rules:\n  - id: second\n    category: b\n    level: warn\n    events: [pre_tool]\n    require: [tool.command]\n",
		"10-base.yml":   "rules:\n  - id: first\n    category: a\n    level: warn\n    events: [pre_tool]\n    require: [tool.command]\n",
		"notes.txt":     "not a rule file",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	src := NewFileSource(dir, slog.New(slog.NewTextHandler(io.Discard, nil)))
	set, err := src.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(set.Definitions) != 2 {
		t.Fatalf("definitions = %d, want 2 (non-yaml skipped)", len(set.Definitions))
	}
	if set.Definitions[0].ID != "first" || set.Definitions[1].ID != "second" {
		t.Errorf("order = %s, %s; want first, second", set.Definitions[0].ID, set.Definitions[1].ID)
	}
}

func TestFileSourceRejectsInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	if err := os.WriteFile(path, []byte("rules: [::bad"), 0o644); err != nil {
		t.Fatalf("write rule file: %v", err)
	}
	src := NewFileSource(path, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if _, err := src.Load(context.Background()); err == nil {
		t.Fatal("Load accepted invalid YAML")
	}
}

func TestFileSourceMissingPath(t *testing.T) {
	src := NewFileSource(filepath.Join(t.TempDir(), "absent.yaml"), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if _, err := src.Load(context.Background()); err == nil {
		t.Fatal("Load succeeded on a missing path")
	}
}

func TestFileSourceWatchSignalsChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	if err := os.WriteFile(path, []byte(sampleRules), 0o644); err != nil {
		t.Fatalf("write rule file: %v", err)
	}

	src := NewFileSource(dir, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := make(chan struct{}, 1)
	go func() {
		_ = src.Watch(ctx, func() error {
			select {
			case changed <- struct{}{}:
			default:
			}
			return nil
		})
	}()

	// Give the watcher time to register before touching the file.
	time.Sleep(200 * time.Millisecond)
	if err := os.WriteFile(path, []byte(sampleRules+"\n"), 0o644); err != nil {
		t.Fatalf("rewrite rule file: %v", err)
	}

	select {
	case <-changed:
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not signal a change")
	}
}

func TestMemorySource(t *testing.T) {
	src := NewMemorySource(nil, "safety")
	set, err := src.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(set.Protected) != 1 || set.Protected[0] != "safety" {
		t.Errorf("protected = %v", set.Protected)
	}
}
