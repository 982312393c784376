package source

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"mercator-hq/warden/pkg/rules"
)

// ruleFile is the on-disk YAML layout of one rule file.
type ruleFile struct {
	Rules     []rules.Definition `yaml:"rules"`
	Protected []string           `yaml:"protected_categories"`
}

// FileSource loads rule definitions from YAML files on disk. The path may
// be a single file or a directory; directories are walked and every .yaml
// and .yml file is loaded in lexical order.
type FileSource struct {
	path     string
	debounce time.Duration
	logger   *slog.Logger
}

// NewFileSource creates a file-based rule source.
func NewFileSource(path string, logger *slog.Logger) *FileSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileSource{
		path:     path,
		debounce: 100 * time.Millisecond,
		logger:   logger.With("component", "rulesource", "path", path),
	}
}

// Load implements Source.
func (s *FileSource) Load(ctx context.Context) (*RuleSet, error) {
	info, err := os.Stat(s.path)
	if err != nil {
		return nil, fmt.Errorf("stat rule path %q: %w", s.path, err)
	}

	files := []string{s.path}
	if info.IsDir() {
		files, err = s.listRuleFiles()
		if err != nil {
			return nil, err
		}
	}

	set := &RuleSet{}
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rf, err := s.loadFile(path)
		if err != nil {
			return nil, err
		}
		set.Definitions = append(set.Definitions, rf.Rules...)
		set.Protected = append(set.Protected, rf.Protected...)
	}

	s.logger.Info("loaded rule definitions", "files", len(files), "rules", len(set.Definitions))
	return set, nil
}

func (s *FileSource) listRuleFiles() ([]string, error) {
	var files []string
	err := filepath.Walk(s.path, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || strings.HasPrefix(info.Name(), ".") {
			return nil
		}
		if ext := filepath.Ext(path); ext == ".yaml" || ext == ".yml" {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk rule directory %q: %w", s.path, err)
	}
	sort.Strings(files)
	return files, nil
}

func (s *FileSource) loadFile(path string) (*ruleFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rule file %q: %w", path, err)
	}
	var rf ruleFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("parse rule file %q: %w", path, err)
	}
	return &rf, nil
}

// Watch blocks, invoking onChange after each debounced batch of filesystem
// events under the source path. It returns when the context is cancelled.
func (s *FileSource) Watch(ctx context.Context, onChange func() error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(s.path); err != nil {
		return fmt.Errorf("watch %q: %w", s.path, err)
	}
	// Watching the parent directory too catches atomic-rename updates of
	// a single rule file.
	if dir := filepath.Dir(s.path); dir != s.path {
		if err := watcher.Add(dir); err != nil {
			s.logger.Warn("parent directory not watched", "dir", dir, "error", err)
		}
	}

	s.logger.Info("rule watch started", "debounce", s.debounce)

	var timer *time.Timer
	var timerC <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}
			if !s.relevant(ev) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(s.debounce)
				timerC = timer.C
			} else {
				timer.Reset(s.debounce)
			}

		case <-timerC:
			timer = nil
			timerC = nil
			if err := onChange(); err != nil {
				s.logger.Warn("rule reload failed", "error", err)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			s.logger.Warn("watch error", "error", err)
		}
	}
}

func (s *FileSource) relevant(ev fsnotify.Event) bool {
	if !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Write) &&
		!ev.Op.Has(fsnotify.Rename) && !ev.Op.Has(fsnotify.Remove) {
		return false
	}
	name := filepath.Base(ev.Name)
	if strings.HasPrefix(name, ".") {
		return false
	}
	ext := filepath.Ext(name)
	return ext == ".yaml" || ext == ".yml" || ev.Name == s.path
}
