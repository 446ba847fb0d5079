// Package editor holds the in-memory editing state of the mbusd ports: an
// ordered list of sections whose fields are committed through the form's
// parsers, policies and validators before they can be saved.
package editor

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/timzifer/mbusdconf/config"
	"github.com/timzifer/mbusdconf/form"
	"github.com/timzifer/mbusdconf/internal/logging"
	"github.com/timzifer/mbusdconf/telemetry"
)

var (
	// ErrUnknownSection is returned for section ids that are not part of the session.
	ErrUnknownSection = errors.New("unknown section")
	// ErrUnknownField is returned for keys the form does not declare.
	ErrUnknownField = errors.New("unknown field")
	// ErrInvalid is wrapped by ValidationError.
	ErrInvalid = errors.New("configuration is invalid")
)

// ValidationError lists every field that currently fails validation.
type ValidationError struct {
	Fields []*form.FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 1 {
		return fmt.Sprintf("%v: %v", ErrInvalid, e.Fields[0])
	}
	return fmt.Sprintf("%v: %d field errors, first: %v", ErrInvalid, len(e.Fields), e.Fields[0])
}

func (e *ValidationError) Unwrap() error { return ErrInvalid }

// Section is one port being edited.
type Section struct {
	ID string
	// Name is the UCI section name. Empty for anonymous sections.
	Name string

	values map[string]string
	extra  []config.Option
}

// Value returns the explicitly set value of key.
func (s *Section) Value(key string) (string, bool) {
	v, ok := s.values[key]
	return v, ok
}

// Values returns a copy of the explicitly set values.
func (s *Section) Values() map[string]string {
	out := make(map[string]string, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// Session is not safe for concurrent use; callers serialize access.
type Session struct {
	form      *form.Map
	grid      *form.GridSection
	base      *config.File
	sections  []*Section
	dirty     bool
	logger    zerolog.Logger
	collector telemetry.Collector
}

// New creates an empty session for the section type of config.SectionType in m.
func New(m *form.Map, logger zerolog.Logger, collector telemetry.Collector) (*Session, error) {
	if m == nil {
		return nil, errors.New("form map must not be nil")
	}
	grid, ok := m.Lookup(config.SectionType)
	if !ok {
		return nil, fmt.Errorf("form %s declares no %s section", m.Config, config.SectionType)
	}
	if collector == nil {
		collector = telemetry.Noop()
	}
	return &Session{
		form:      m,
		grid:      grid,
		base:      &config.File{Package: m.Config},
		logger:    logging.Component(logger, "editor"),
		collector: collector,
	}, nil
}

// Form returns the form the session edits.
func (s *Session) Form() *form.Map { return s.form }

// Grid returns the grid section of the edited type.
func (s *Session) Grid() *form.GridSection { return s.grid }

// Load replaces the session state with the sections of file. Stored values
// are brought into canonical form where they parse and kept verbatim where
// they do not; conflicts and range errors are only reported on edit and save.
// A declared option stored as a list contributes its first element.
func (s *Session) Load(file *config.File) {
	if file == nil {
		file = &config.File{}
	}
	s.base = file
	s.sections = nil
	for _, stored := range file.SectionsOfType(config.SectionType) {
		sec := &Section{ID: s.newID(), Name: stored.Name, values: make(map[string]string)}
		for _, opt := range stored.Options {
			declared, known := s.grid.Option(opt.Name)
			if !known {
				sec.extra = append(sec.extra, opt)
				continue
			}
			if opt.List {
				s.logger.Warn().
					Str("section", sec.ID).
					Str("field", opt.Name).
					Int("values", len(opt.Values)).
					Msg("list stored for a single value option; using the first element")
			}
			raw := opt.Value()
			if value, err := declared.Parse(raw); err == nil && value != "" {
				raw = value
			}
			sec.values[opt.Name] = raw
		}
		s.sections = append(s.sections, sec)
	}
	s.dirty = false
	s.logger.Debug().Int("sections", len(s.sections)).Msg("session loaded")
}

// Sections returns the sections in display order.
func (s *Session) Sections() []*Section {
	out := make([]*Section, len(s.sections))
	copy(out, s.sections)
	return out
}

// Section returns the section with the given id.
func (s *Session) Section(id string) (*Section, error) {
	_, sec, err := s.find(id)
	return sec, err
}

// SectionIDs implements form.Values.
func (s *Session) SectionIDs() []string {
	ids := make([]string, len(s.sections))
	for i, sec := range s.sections {
		ids[i] = sec.ID
	}
	return ids
}

// FormValue implements form.Values. Missing values resolve to the option default.
func (s *Session) FormValue(id, key string) string {
	_, sec, err := s.find(id)
	if err != nil {
		return ""
	}
	if v, ok := sec.values[key]; ok {
		return v
	}
	if opt, ok := s.grid.Option(key); ok {
		return opt.Default
	}
	return ""
}

// Add appends a new anonymous section populated with defaults.
func (s *Session) Add() *Section {
	sec := &Section{ID: s.newID(), values: make(map[string]string)}
	s.sections = append(s.sections, sec)
	s.dirty = true
	return sec
}

// Remove deletes a section.
func (s *Session) Remove(id string) error {
	idx, _, err := s.find(id)
	if err != nil {
		return err
	}
	s.sections = append(s.sections[:idx], s.sections[idx+1:]...)
	s.dirty = true
	return nil
}

// Move places a section at index. Out of range indexes are clamped.
func (s *Session) Move(id string, index int) error {
	idx, sec, err := s.find(id)
	if err != nil {
		return err
	}
	if index < 0 {
		index = 0
	}
	if index > len(s.sections)-1 {
		index = len(s.sections) - 1
	}
	if index == idx {
		return nil
	}
	s.sections = append(s.sections[:idx], s.sections[idx+1:]...)
	s.sections = append(s.sections[:index], append([]*Section{sec}, s.sections[index:]...)...)
	s.dirty = true
	return nil
}

// Set commits one field. The raw value is parsed and checked against every
// validator of the option; on failure the previous value is kept and a
// *form.FieldError is returned.
func (s *Session) Set(id, key, raw string) (string, error) {
	_, sec, err := s.find(id)
	if err != nil {
		return "", err
	}
	opt, ok := s.grid.Option(key)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownField, key)
	}
	value, err := opt.Check(s, id, raw)
	if err != nil {
		s.collector.IncValidationFailure(key)
		s.logger.Debug().Str("section", id).Str("field", key).Err(err).Msg("value rejected")
		return "", err
	}
	if value == "" {
		delete(sec.values, key)
	} else {
		sec.values[key] = value
	}
	s.dirty = true
	return value, nil
}

// Validate checks every field of every section against the current form state.
func (s *Session) Validate() []*form.FieldError {
	var errs []*form.FieldError
	for _, sec := range s.sections {
		for _, opt := range s.grid.Options {
			if _, err := opt.Check(s, sec.ID, s.FormValue(sec.ID, opt.Key)); err != nil {
				var fieldErr *form.FieldError
				if errors.As(err, &fieldErr) {
					errs = append(errs, fieldErr)
				} else {
					errs = append(errs, &form.FieldError{Section: sec.ID, Field: opt.Key, Message: err.Error()})
				}
			}
		}
	}
	return errs
}

// Apply returns the store content for the current session. Sections of other
// types keep their place; the edited sections replace the stored ones at the
// position of the first stored section of the edited type.
func (s *Session) Apply() (*config.File, error) {
	if errs := s.Validate(); len(errs) > 0 {
		for _, fieldErr := range errs {
			s.collector.IncValidationFailure(fieldErr.Field)
		}
		return nil, &ValidationError{Fields: errs}
	}
	out := &config.File{Package: s.base.Package}
	inserted := false
	for _, stored := range s.base.Sections {
		if stored.Type != config.SectionType {
			out.Sections = append(out.Sections, stored)
			continue
		}
		if !inserted {
			out.Sections = append(out.Sections, s.encodeSections()...)
			inserted = true
		}
	}
	if !inserted {
		out.Sections = append(out.Sections, s.encodeSections()...)
	}
	return out, nil
}

// Ports decodes the current form values of every section.
func (s *Session) Ports() ([]config.PortSection, error) {
	ports := make([]config.PortSection, 0, len(s.sections))
	for i, sec := range s.sections {
		values := make(map[string]string, len(s.grid.Options))
		for _, opt := range s.grid.Options {
			values[opt.Key] = s.FormValue(sec.ID, opt.Key)
		}
		port, err := config.DecodePort(values)
		if err != nil {
			return nil, fmt.Errorf("section %d: %w", i, err)
		}
		port.Name = sec.Name
		ports = append(ports, port)
	}
	return ports, nil
}

// Dirty reports whether the session holds changes that were not saved.
func (s *Session) Dirty() bool { return s.dirty }

// MarkSaved records that the session matches the store.
func (s *Session) MarkSaved(file *config.File) {
	if file != nil {
		s.base = file
	}
	s.dirty = false
}

func (s *Session) encodeSections() []*config.Section {
	result := make([]*config.Section, 0, len(s.sections))
	for _, sec := range s.sections {
		stored := &config.Section{Type: config.SectionType, Name: sec.Name}
		for _, opt := range s.grid.Options {
			if v := s.FormValue(sec.ID, opt.Key); v != "" {
				stored.Options = append(stored.Options, config.Option{Name: opt.Key, Values: []string{v}})
			}
		}
		stored.Options = append(stored.Options, sec.extra...)
		result = append(result, stored)
	}
	return result
}

func (s *Session) find(id string) (int, *Section, error) {
	for i, sec := range s.sections {
		if sec.ID == id {
			return i, sec, nil
		}
	}
	return -1, nil, fmt.Errorf("%w: %s", ErrUnknownSection, id)
}

func (s *Session) newID() string {
	for {
		id := "cfg" + strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
		if _, _, err := s.find(id); err != nil {
			return id
		}
	}
}
