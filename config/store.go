package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// DefaultPath is the location of the mbusd configuration package on the router.
const DefaultPath = "/etc/config/mbusd"

// SectionType is the UCI section type holding one gateway port.
const SectionType = "mbusd"

// Load reads and parses the configuration store. A missing file yields an empty store.
func Load(path string) (*File, error) {
	if path == "" {
		return nil, errors.New("config path must not be empty")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &File{}, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	file, err := ParseUCI(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return file, nil
}

// Save writes the store atomically next to the target and renames it into place.
func (f *File) Save(path string) error {
	if path == "" {
		return errors.New("config path must not be empty")
	}
	var buf bytes.Buffer
	if err := f.Encode(&buf); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp config: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace config: %w", err)
	}
	return nil
}

// Ports decodes every mbusd section of the store in order.
func (f *File) Ports() ([]PortSection, error) {
	sections := f.SectionsOfType(SectionType)
	ports := make([]PortSection, 0, len(sections))
	for i, sec := range sections {
		port, err := DecodePort(sec.Values())
		if err != nil {
			return nil, fmt.Errorf("section %d: %w", i, err)
		}
		port.Name = sec.Name
		ports = append(ports, port)
	}
	return ports, nil
}
