package config

import (
	"path/filepath"
	"sort"
	"strings"
)

// SourceFiles returns the files whose modification should trigger a reload.
func SourceFiles(cfg *Config) []string {
	if cfg == nil {
		return nil
	}
	files := make(map[string]struct{})
	add := func(path string) {
		path = strings.TrimSpace(path)
		if path == "" {
			return
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			abs = path
		}
		files[abs] = struct{}{}
	}
	add(cfg.Store)
	paths := make([]string, 0, len(files))
	for path := range files {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}
