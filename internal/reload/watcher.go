package reload

import (
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/timzifer/mbusdconf/internal/config"
)

type fileState struct {
	exists  bool
	modTime time.Time
	size    int64
}

// Watcher keeps track of the settings file and the configuration store and
// detects modifications made behind the editor's back.
type Watcher struct {
	mu    sync.Mutex
	files map[string]fileState
}

// NewWatcher builds a watcher with the known files from the configuration.
func NewWatcher(root string, cfg *config.Config) (*Watcher, error) {
	watcher := &Watcher{}
	if err := watcher.Update(root, cfg); err != nil {
		return nil, err
	}
	return watcher, nil
}

// Update takes a fresh snapshot of the tracked files. Files that do not exist
// yet are tracked too, so their creation is reported.
func (w *Watcher) Update(root string, cfg *config.Config) error {
	if w == nil {
		return nil
	}
	paths := config.SourceFiles(cfg)
	if root != "" {
		if abs, err := filepath.Abs(root); err == nil {
			paths = append(paths, abs)
		}
	}
	states := make(map[string]fileState, len(paths))
	for _, path := range uniquePaths(paths) {
		states[path] = stat(path)
	}
	w.mu.Lock()
	w.files = states
	w.mu.Unlock()
	return nil
}

// Check reports the files that changed since the last snapshot.
func (w *Watcher) Check() ([]string, error) {
	if w == nil {
		return nil, nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	changed := make([]string, 0)
	for path, state := range w.files {
		current := stat(path)
		if current.exists != state.exists {
			changed = append(changed, path)
			continue
		}
		if !current.exists {
			continue
		}
		if current.modTime.After(state.modTime) || current.size != state.size {
			changed = append(changed, path)
		}
	}
	sort.Strings(changed)
	return changed, nil
}

func stat(path string) fileState {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return fileState{}
	}
	return fileState{exists: true, modTime: info.ModTime(), size: info.Size()}
}

func uniquePaths(paths []string) []string {
	seen := make(map[string]struct{}, len(paths))
	result := make([]string, 0, len(paths))
	for _, path := range paths {
		if path == "" {
			continue
		}
		if _, ok := seen[path]; ok {
			continue
		}
		seen[path] = struct{}{}
		result = append(result, path)
	}
	return result
}
