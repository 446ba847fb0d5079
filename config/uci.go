package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Option is a single `option` or `list` line of a UCI section.
type Option struct {
	Name   string
	Values []string
	List   bool
}

// Value returns the scalar value of the option. Lists return their first element.
func (o Option) Value() string {
	if len(o.Values) == 0 {
		return ""
	}
	return o.Values[0]
}

// Section is one `config <type> [name]` block.
type Section struct {
	Type    string
	Name    string
	Options []Option
}

// Anonymous reports whether the section was declared without a name.
func (s *Section) Anonymous() bool {
	return s.Name == ""
}

// Get returns the scalar value of the named option.
func (s *Section) Get(name string) (string, bool) {
	for _, opt := range s.Options {
		if opt.Name == name {
			return opt.Value(), true
		}
	}
	return "", false
}

// Set replaces (or appends) a scalar option.
func (s *Section) Set(name, value string) {
	for i := range s.Options {
		if s.Options[i].Name == name {
			s.Options[i] = Option{Name: name, Values: []string{value}}
			return
		}
	}
	s.Options = append(s.Options, Option{Name: name, Values: []string{value}})
}

// Delete removes the named option if present.
func (s *Section) Delete(name string) {
	kept := s.Options[:0]
	for _, opt := range s.Options {
		if opt.Name != name {
			kept = append(kept, opt)
		}
	}
	s.Options = kept
}

// Values returns all scalar options keyed by name. List options are skipped.
func (s *Section) Values() map[string]string {
	values := make(map[string]string, len(s.Options))
	for _, opt := range s.Options {
		if opt.List {
			continue
		}
		values[opt.Name] = opt.Value()
	}
	return values
}

// File is a parsed UCI configuration package.
type File struct {
	Package  string
	Sections []*Section
}

// SectionsOfType returns the sections with the given type in file order.
func (f *File) SectionsOfType(typ string) []*Section {
	if f == nil {
		return nil
	}
	result := make([]*Section, 0, len(f.Sections))
	for _, sec := range f.Sections {
		if sec.Type == typ {
			result = append(result, sec)
		}
	}
	return result
}

var errUnterminatedQuote = errors.New("unterminated quote")

// ParseUCI decodes the UCI text format as produced by `uci export`.
func ParseUCI(r io.Reader) (*File, error) {
	file := &File{}
	var current *Section

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		tokens, err := tokenizeLine(scanner.Text())
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		if len(tokens) == 0 {
			continue
		}
		switch tokens[0] {
		case "package":
			if len(tokens) != 2 {
				return nil, fmt.Errorf("line %d: package expects one argument", lineNo)
			}
			file.Package = tokens[1]
		case "config":
			if len(tokens) < 2 || len(tokens) > 3 {
				return nil, fmt.Errorf("line %d: config expects a type and an optional name", lineNo)
			}
			if !validIdentifier(tokens[1]) {
				return nil, fmt.Errorf("line %d: invalid section type %q", lineNo, tokens[1])
			}
			current = &Section{Type: tokens[1]}
			if len(tokens) == 3 {
				if !validIdentifier(tokens[2]) {
					return nil, fmt.Errorf("line %d: invalid section name %q", lineNo, tokens[2])
				}
				current.Name = tokens[2]
			}
			file.Sections = append(file.Sections, current)
		case "option", "list":
			if current == nil {
				return nil, fmt.Errorf("line %d: %s outside of a section", lineNo, tokens[0])
			}
			if len(tokens) != 3 {
				return nil, fmt.Errorf("line %d: %s expects a name and a value", lineNo, tokens[0])
			}
			if !validIdentifier(tokens[1]) {
				return nil, fmt.Errorf("line %d: invalid option name %q", lineNo, tokens[1])
			}
			if tokens[0] == "option" {
				current.Set(tokens[1], tokens[2])
				continue
			}
			appendList(current, tokens[1], tokens[2])
		default:
			return nil, fmt.Errorf("line %d: unknown keyword %q", lineNo, tokens[0])
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read uci: %w", err)
	}
	return file, nil
}

func appendList(sec *Section, name, value string) {
	for i := range sec.Options {
		if sec.Options[i].Name == name && sec.Options[i].List {
			sec.Options[i].Values = append(sec.Options[i].Values, value)
			return
		}
	}
	sec.Options = append(sec.Options, Option{Name: name, Values: []string{value}, List: true})
}

// tokenizeLine splits a line into shell-like words. Adjacent quoted and
// unquoted fragments form a single word, so 'it'\''s' yields it's.
func tokenizeLine(line string) ([]string, error) {
	var (
		tokens  []string
		current strings.Builder
		inWord  bool
	)
	flush := func() {
		if inWord {
			tokens = append(tokens, current.String())
			current.Reset()
			inWord = false
		}
	}

	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case c == ' ' || c == '\t':
			flush()
		case c == '#' && !inWord:
			return tokens, nil
		case c == '\'':
			inWord = true
			end := strings.IndexByte(line[i+1:], '\'')
			if end < 0 {
				return nil, errUnterminatedQuote
			}
			current.WriteString(line[i+1 : i+1+end])
			i += end + 1
		case c == '"':
			inWord = true
			i++
			closed := false
			for ; i < len(line); i++ {
				if line[i] == '\\' && i+1 < len(line) {
					i++
					current.WriteByte(line[i])
					continue
				}
				if line[i] == '"' {
					closed = true
					break
				}
				current.WriteByte(line[i])
			}
			if !closed {
				return nil, errUnterminatedQuote
			}
		case c == '\\' && i+1 < len(line):
			inWord = true
			i++
			current.WriteByte(line[i])
		default:
			inWord = true
			current.WriteByte(c)
		}
	}
	flush()
	return tokens, nil
}

func validIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
		default:
			return false
		}
	}
	return true
}

// Encode writes the file in the canonical UCI layout.
func (f *File) Encode(w io.Writer) error {
	bw := bufio.NewWriter(w)
	if f.Package != "" {
		fmt.Fprintf(bw, "package %s\n\n", quote(f.Package))
	}
	for i, sec := range f.Sections {
		if i > 0 {
			bw.WriteString("\n")
		}
		if sec.Name != "" {
			fmt.Fprintf(bw, "config %s %s\n", sec.Type, quote(sec.Name))
		} else {
			fmt.Fprintf(bw, "config %s\n", sec.Type)
		}
		for _, opt := range sec.Options {
			keyword := "option"
			if opt.List {
				keyword = "list"
			}
			for _, value := range opt.Values {
				fmt.Fprintf(bw, "\t%s %s %s\n", keyword, opt.Name, quote(value))
			}
		}
	}
	return bw.Flush()
}

func quote(value string) string {
	return "'" + strings.ReplaceAll(value, "'", `'\''`) + "'"
}
