package form

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

// staticValues is a Values view over a fixed set of sections.
type staticValues struct {
	ids      []string
	values   map[string]map[string]string
	defaults map[string]string
}

func (v staticValues) SectionIDs() []string { return v.ids }

func (v staticValues) FormValue(id, key string) string {
	if value, ok := v.values[id][key]; ok {
		return value
	}
	return v.defaults[key]
}

func TestParseFlag(t *testing.T) {
	opt := &Option{Key: "enable", Kind: KindFlag, Required: true}
	for raw, want := range map[string]string{"1": "1", "true": "1", "on": "1", "0": "0", "no": "0"} {
		got, err := opt.Parse(raw)
		require.NoError(t, err, raw)
		require.Equal(t, want, got, raw)
	}
	_, err := opt.Parse("maybe")
	require.Error(t, err)
	_, err = opt.Parse("")
	require.EqualError(t, err, "Expecting: non-empty value")
}

func TestParseEnum(t *testing.T) {
	opt := &Option{Key: "parity", Kind: KindEnum}
	opt.Value("none").Value("even").Value("odd")

	got, err := opt.Parse(" even ")
	require.NoError(t, err)
	require.Equal(t, "even", got)

	_, err = opt.Parse("mark")
	require.EqualError(t, err, "Expecting one of: none, even, odd")
}

func TestParseIntRangeCanonicalizes(t *testing.T) {
	opt := &Option{Key: "port", Kind: KindIntRange, Min: 1, Max: 65535}
	got, err := opt.Parse("0502")
	require.NoError(t, err)
	require.Equal(t, "502", got)

	_, err = opt.Parse("0")
	require.EqualError(t, err, "Expecting: value between 1 and 65535")
	_, err = opt.Parse("5o2")
	require.EqualError(t, err, "Expecting: integer value")
}

func TestParseOptionalEmpty(t *testing.T) {
	opt := &Option{Key: "note", Kind: KindString}
	got, err := opt.Parse("  ")
	require.NoError(t, err)
	require.Equal(t, "", got)
}

func TestParseIPAddr(t *testing.T) {
	opt := &Option{Key: "bind", Kind: KindString, Datatype: DatatypeIPAddr}
	for _, raw := range []string{"0.0.0.0", "192.168.1.1", "::", "fe80::1"} {
		_, err := opt.Parse(raw)
		require.NoError(t, err, raw)
	}
	_, err := opt.Parse("localhost")
	require.Error(t, err)
}

func TestCheckWrapsFieldError(t *testing.T) {
	opt := &Option{Key: "device", Kind: KindString, Required: true}
	opt.Validate(func(Values, string, string) error { return errors.New("taken") })

	_, err := opt.Check(staticValues{}, "cfg01", "/dev/ttyS0")
	var fieldErr *FieldError
	require.ErrorAs(t, err, &fieldErr)
	require.Equal(t, "cfg01", fieldErr.Section)
	require.Equal(t, "device", fieldErr.Field)
	require.Equal(t, "taken", fieldErr.Message)
	require.Equal(t, "cfg01.device: taken", err.Error())

	_, err = opt.Check(staticValues{}, "cfg01", "")
	require.ErrorAs(t, err, &fieldErr)
	require.Equal(t, "Expecting: non-empty value", fieldErr.Message)
}

func TestValueAddsSuggestionsToStrings(t *testing.T) {
	opt := &Option{Kind: KindString}
	opt.Value("/dev/ttyS0")
	require.Equal(t, []string{"/dev/ttyS0"}, opt.Suggestions)
	require.Empty(t, opt.Choices)
}

func TestRenderDescriptor(t *testing.T) {
	m := NewMbusdMap([]string{"/dev/ttyS0"})
	desc := m.Render()
	require.Equal(t, "mbusd", desc.Config)
	require.Len(t, desc.Sections, 1)

	section := desc.Sections[0]
	require.True(t, section.AddRemove)
	require.True(t, section.Anonymous)
	require.True(t, section.Sortable)
	require.Equal(t, []string{"enable", "device", "speed", "parity", "stopbits", "port"}, section.Columns)
	require.Len(t, section.Tabs, 3)
	require.Equal(t, "general", section.Tabs[0].Name)
	require.Len(t, section.Tabs[1].Options, 7)

	raw, err := json.Marshal(desc)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))

	tabs := decoded["sections"].([]any)[0].(map[string]any)["tabs"].([]any)
	retries := tabs[1].(map[string]any)["options"].([]any)[4].(map[string]any)
	require.Equal(t, "retries", retries["key"])
	require.Equal(t, "range", retries["kind"])
	require.EqualValues(t, 0, retries["min"])
	require.EqualValues(t, 15, retries["max"])

	device := tabs[1].(map[string]any)["options"].([]any)[0].(map[string]any)
	require.Equal(t, []any{"/dev/ttyS0"}, device["suggestions"])
}
