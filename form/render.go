package form

// Descriptor is the serializable shape of a Map handed to clients.
type Descriptor struct {
	Config   string              `json:"config"`
	Title    string              `json:"title"`
	Sections []SectionDescriptor `json:"sections"`
}

// SectionDescriptor describes a grid section.
type SectionDescriptor struct {
	Type      string          `json:"type"`
	Title     string          `json:"title"`
	AddRemove bool            `json:"addremove"`
	Anonymous bool            `json:"anonymous"`
	Sortable  bool            `json:"sortable"`
	Columns   []string        `json:"columns"`
	Tabs      []TabDescriptor `json:"tabs"`
}

// TabDescriptor describes a tab and its options.
type TabDescriptor struct {
	Name    string             `json:"name"`
	Title   string             `json:"title"`
	Options []OptionDescriptor `json:"options"`
}

// OptionDescriptor describes a single option.
type OptionDescriptor struct {
	Key         string   `json:"key"`
	Label       string   `json:"label"`
	Help        string   `json:"help,omitempty"`
	Kind        Kind     `json:"kind"`
	Default     string   `json:"default,omitempty"`
	Choices     []Choice `json:"choices,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
	Min         *int     `json:"min,omitempty"`
	Max         *int     `json:"max,omitempty"`
	Datatype    string   `json:"datatype,omitempty"`
	Required    bool     `json:"required"`
	ModalOnly   bool     `json:"modalonly"`
	Editable    bool     `json:"editable"`
	Width       string   `json:"width,omitempty"`
}

// Render builds the descriptor of the map.
func (m *Map) Render() Descriptor {
	desc := Descriptor{Config: m.Config, Title: m.Title, Sections: make([]SectionDescriptor, 0, len(m.Sections))}
	for _, s := range m.Sections {
		sd := SectionDescriptor{
			Type:      s.Type,
			Title:     s.Title,
			AddRemove: s.AddRemove,
			Anonymous: s.Anonymous,
			Sortable:  s.Sortable,
			Tabs:      make([]TabDescriptor, 0, len(s.Tabs)),
		}
		for _, col := range s.Columns() {
			sd.Columns = append(sd.Columns, col.Key)
		}
		for _, tab := range s.Tabs {
			td := TabDescriptor{Name: tab.Name, Title: tab.Title}
			for _, opt := range s.TabOptions(tab.Name) {
				td.Options = append(td.Options, describeOption(opt))
			}
			sd.Tabs = append(sd.Tabs, td)
		}
		desc.Sections = append(desc.Sections, sd)
	}
	return desc
}

func describeOption(opt *Option) OptionDescriptor {
	od := OptionDescriptor{
		Key:         opt.Key,
		Label:       opt.Label,
		Help:        opt.Help,
		Kind:        opt.Kind,
		Default:     opt.Default,
		Choices:     opt.Choices,
		Suggestions: opt.Suggestions,
		Datatype:    opt.Datatype,
		Required:    opt.Required,
		ModalOnly:   opt.ModalOnly,
		Editable:    opt.Editable,
		Width:       opt.Width,
	}
	if opt.Kind == KindIntRange {
		lo, hi := opt.Min, opt.Max
		od.Min, od.Max = &lo, &hi
	}
	return od
}
