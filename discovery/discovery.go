// Package discovery finds candidate serial device paths for the port editor.
package discovery

import (
	"context"
	"regexp"
	"slices"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/timzifer/mbusdconf/telemetry"
)

// DefaultDirs are the directories scanned for serial devices.
var DefaultDirs = []string{"/dev/", "/dev/tts/"}

var devicePattern = regexp.MustCompile(`^tty[A-Z]|^[0-9]+$`)

// Entry is one directory entry returned by a Lister.
type Entry struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

// Lister lists the entries of a directory.
type Lister interface {
	List(ctx context.Context, path string) ([]Entry, error)
}

// ListerFunc adapts a function to the Lister interface.
type ListerFunc func(ctx context.Context, path string) ([]Entry, error)

// List calls f.
func (f ListerFunc) List(ctx context.Context, path string) ([]Entry, error) {
	return f(ctx, path)
}

// Filter keeps serial-like names (ttyS0, ttyUSB0, ttyACM0, 0, 1, ...),
// prefixes them with dir and returns them sorted.
func Filter(dir string, entries []Entry) []string {
	dir = normalizeDir(dir)
	result := make([]string, 0, len(entries))
	for _, entry := range entries {
		if devicePattern.MatchString(entry.Name) {
			result = append(result, dir+entry.Name)
		}
	}
	slices.Sort(result)
	return result
}

func normalizeDir(dir string) string {
	if dir == "" || strings.HasSuffix(dir, "/") {
		return dir
	}
	return dir + "/"
}

// Discoverer lists a set of directories and merges the serial devices found.
type Discoverer struct {
	lister    Lister
	dirs      []string
	logger    zerolog.Logger
	collector telemetry.Collector
}

// New creates a Discoverer. Empty dirs fall back to DefaultDirs.
func New(lister Lister, dirs []string, logger zerolog.Logger, collector telemetry.Collector) *Discoverer {
	if len(dirs) == 0 {
		dirs = DefaultDirs
	}
	if collector == nil {
		collector = telemetry.Noop()
	}
	return &Discoverer{
		lister:    lister,
		dirs:      append([]string(nil), dirs...),
		logger:    logger,
		collector: collector,
	}
}

// Discover lists all directories concurrently. A directory that cannot be
// listed contributes nothing; the merged result is sorted and free of duplicates.
func (d *Discoverer) Discover(ctx context.Context) []string {
	results := make([][]string, len(d.dirs))
	g, gctx := errgroup.WithContext(ctx)
	for i, dir := range d.dirs {
		g.Go(func() error {
			entries, err := d.lister.List(gctx, dir)
			if err != nil {
				d.logger.Debug().Err(err).Str("dir", dir).Msg("serial device listing failed")
				d.collector.IncDiscoveryFailure(dir)
				return nil
			}
			results[i] = Filter(dir, entries)
			return nil
		})
	}
	_ = g.Wait()

	var devices []string
	for _, found := range results {
		devices = append(devices, found...)
	}
	slices.Sort(devices)
	return slices.Compact(devices)
}
