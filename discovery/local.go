package discovery

import (
	"context"
	"io/fs"
	"os"
)

// LocalLister lists directories of the local filesystem.
type LocalLister struct{}

// List returns the entries of path with their rpcd-style type names.
func (LocalLister) List(ctx context.Context, path string) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dirEntries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		entries = append(entries, Entry{Name: de.Name(), Type: typeName(de.Type())})
	}
	return entries, nil
}

func typeName(mode fs.FileMode) string {
	switch {
	case mode&fs.ModeDir != 0:
		return "directory"
	case mode&fs.ModeSymlink != 0:
		return "symlink"
	case mode&fs.ModeCharDevice != 0:
		return "char"
	case mode&fs.ModeDevice != 0:
		return "block"
	case mode&fs.ModeNamedPipe != 0:
		return "fifo"
	case mode&fs.ModeSocket != 0:
		return "socket"
	default:
		return "file"
	}
}
