// Package form declares editable configuration sections the way the router
// web interface presents them: a map holding grid sections, grouped into
// tabs, with typed options, defaults and validators.
package form

import (
	"errors"
	"fmt"
	"net/netip"
	"strconv"
	"strings"
)

// Kind is the value domain of an option.
type Kind int

const (
	// KindFlag is a boolean stored as "1" or "0".
	KindFlag Kind = iota
	// KindEnum only accepts one of the declared choices.
	KindEnum
	// KindIntRange accepts integers within [Min, Max].
	KindIntRange
	// KindString accepts free text, optionally checked by a datatype.
	KindString
)

func (k Kind) String() string {
	switch k {
	case KindFlag:
		return "flag"
	case KindEnum:
		return "enum"
	case KindIntRange:
		return "range"
	case KindString:
		return "string"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// MarshalText renders the kind by name.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Datatypes understood by KindString options.
const (
	DatatypeString = "string"
	DatatypeIPAddr = "ipaddr"
)

// Choice is one entry of an enumerated option.
type Choice struct {
	Value string `json:"value"`
	Label string `json:"label,omitempty"`
}

// Values gives validators read access to the current form state of every section.
type Values interface {
	SectionIDs() []string
	FormValue(sectionID, key string) string
}

// Validator checks a parsed value in the context of the whole form.
// The returned error message is shown next to the field.
type Validator func(values Values, sectionID, value string) error

// FieldError reports a rejected field value.
type FieldError struct {
	Section string `json:"section"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *FieldError) Error() string {
	if e.Section == "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("%s.%s: %s", e.Section, e.Field, e.Message)
}

// Option describes one editable field of a section.
type Option struct {
	Key         string
	Label       string
	Help        string
	Tab         string
	Kind        Kind
	Default     string
	Choices     []Choice
	Suggestions []string
	Min, Max    int
	Datatype    string
	Required    bool
	ModalOnly   bool
	Editable    bool
	Width       string
	Validators  []Validator
}

// Value adds a choice to an enumerated option, or a suggestion to a string option.
func (o *Option) Value(value string, label ...string) *Option {
	if o.Kind == KindString {
		o.Suggestions = append(o.Suggestions, value)
		return o
	}
	choice := Choice{Value: value}
	if len(label) > 0 {
		choice.Label = label[0]
	}
	o.Choices = append(o.Choices, choice)
	return o
}

// Validate appends a validator.
func (o *Option) Validate(v Validator) *Option {
	o.Validators = append(o.Validators, v)
	return o
}

// InGrid reports whether the option is shown as a grid column.
func (o *Option) InGrid() bool {
	return !o.ModalOnly
}

// InlineEditable reports whether the option can be edited directly in the grid row.
func (o *Option) InlineEditable() bool {
	return o.Editable && !o.ModalOnly
}

// Parse checks raw against the option's value domain and returns the
// canonical representation that is stored.
func (o *Option) Parse(raw string) (string, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		if o.Required {
			return "", errors.New("Expecting: non-empty value")
		}
		return "", nil
	}
	switch o.Kind {
	case KindFlag:
		switch strings.ToLower(value) {
		case "1", "true", "yes", "on", "enabled":
			return "1", nil
		case "0", "false", "no", "off", "disabled":
			return "0", nil
		}
		return "", errors.New("Expecting: boolean value")
	case KindEnum:
		for _, choice := range o.Choices {
			if choice.Value == value {
				return value, nil
			}
		}
		return "", fmt.Errorf("Expecting one of: %s", strings.Join(o.choiceValues(), ", "))
	case KindIntRange:
		n, err := strconv.Atoi(value)
		if err != nil {
			return "", errors.New("Expecting: integer value")
		}
		if n < o.Min || n > o.Max {
			return "", fmt.Errorf("Expecting: value between %d and %d", o.Min, o.Max)
		}
		return strconv.Itoa(n), nil
	case KindString:
		if o.Datatype == DatatypeIPAddr {
			if _, err := netip.ParseAddr(value); err != nil {
				return "", errors.New("Expecting: valid IP address")
			}
		}
		return value, nil
	default:
		return "", fmt.Errorf("unsupported option kind %s", o.Kind)
	}
}

// Check parses raw and runs all validators against the form state. On
// failure it returns a *FieldError and the value must not be committed.
func (o *Option) Check(values Values, sectionID, raw string) (string, error) {
	value, err := o.Parse(raw)
	if err != nil {
		return "", &FieldError{Section: sectionID, Field: o.Key, Message: err.Error()}
	}
	for _, validate := range o.Validators {
		if err := validate(values, sectionID, value); err != nil {
			return "", &FieldError{Section: sectionID, Field: o.Key, Message: err.Error()}
		}
	}
	return value, nil
}

func (o *Option) choiceValues() []string {
	values := make([]string, 0, len(o.Choices))
	for _, choice := range o.Choices {
		values = append(values, choice.Value)
	}
	return values
}

// Tab groups options inside the section editor.
type Tab struct {
	Name  string
	Title string
}

// GridSection is an editable, orderable list of homogeneous sections.
type GridSection struct {
	Type      string
	Title     string
	AddRemove bool
	Anonymous bool
	Sortable  bool
	Tabs      []Tab
	Options   []*Option
}

// Tab declares a tab.
func (s *GridSection) Tab(name, title string) {
	s.Tabs = append(s.Tabs, Tab{Name: name, Title: title})
}

// TabOption adds an option to the named tab.
func (s *GridSection) TabOption(tab string, kind Kind, key, label string, help ...string) *Option {
	opt := &Option{Key: key, Label: label, Tab: tab, Kind: kind}
	if len(help) > 0 {
		opt.Help = help[0]
	}
	s.Options = append(s.Options, opt)
	return opt
}

// Option looks up an option by key.
func (s *GridSection) Option(key string) (*Option, bool) {
	for _, opt := range s.Options {
		if opt.Key == key {
			return opt, true
		}
	}
	return nil, false
}

// TabOptions returns the options of one tab in declaration order.
func (s *GridSection) TabOptions(tab string) []*Option {
	var result []*Option
	for _, opt := range s.Options {
		if opt.Tab == tab {
			result = append(result, opt)
		}
	}
	return result
}

// Columns returns the options shown in the grid.
func (s *GridSection) Columns() []*Option {
	var result []*Option
	for _, opt := range s.Options {
		if opt.InGrid() {
			result = append(result, opt)
		}
	}
	return result
}

// Defaults returns the default value of every option.
func (s *GridSection) Defaults() map[string]string {
	defaults := make(map[string]string, len(s.Options))
	for _, opt := range s.Options {
		defaults[opt.Key] = opt.Default
	}
	return defaults
}

// Map is the root of a form bound to one configuration package.
type Map struct {
	Config   string
	Title    string
	Sections []*GridSection
}

// NewMap creates a form bound to the named configuration package.
func NewMap(config, title string) *Map {
	return &Map{Config: config, Title: title}
}

// Section adds a grid section for the given section type.
func (m *Map) Section(typ, title string) *GridSection {
	s := &GridSection{Type: typ, Title: title}
	m.Sections = append(m.Sections, s)
	return s
}

// Lookup returns the grid section of the given type.
func (m *Map) Lookup(typ string) (*GridSection, bool) {
	for _, s := range m.Sections {
		if s.Type == typ {
			return s, true
		}
	}
	return nil, false
}
