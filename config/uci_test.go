package config

import (
	"bytes"
	"strings"
	"testing"
)

const sampleUCI = `package 'mbusd'

# managed by mbusdconf
config mbusd
	option enable '1'
	option device '/dev/ttyS0'
	option port '502'

config mbusd 'lab'
	option enable "0"
	option device /dev/ttyUSB0
	list allow '10.0.0.1'
	list allow '10.0.0.2'

config global
	option note 'it'\''s fine'
`

func TestParseUCI(t *testing.T) {
	file, err := ParseUCI(strings.NewReader(sampleUCI))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if file.Package != "mbusd" {
		t.Fatalf("expected package mbusd, got %q", file.Package)
	}
	if len(file.Sections) != 3 {
		t.Fatalf("expected 3 sections, got %d", len(file.Sections))
	}

	first := file.Sections[0]
	if !first.Anonymous() || first.Type != "mbusd" {
		t.Fatalf("unexpected first section: %+v", first)
	}
	if v, ok := first.Get("device"); !ok || v != "/dev/ttyS0" {
		t.Fatalf("device = %q, %v", v, ok)
	}

	second := file.Sections[1]
	if second.Name != "lab" {
		t.Fatalf("expected named section lab, got %q", second.Name)
	}
	if v, _ := second.Get("enable"); v != "0" {
		t.Fatalf("enable = %q", v)
	}
	if v, _ := second.Get("device"); v != "/dev/ttyUSB0" {
		t.Fatalf("unquoted device = %q", v)
	}
	if _, ok := second.Values()["allow"]; ok {
		t.Fatalf("list options must not appear in Values()")
	}
	if got := second.Options[len(second.Options)-1].Values; len(got) != 2 {
		t.Fatalf("expected 2 list values, got %v", got)
	}

	if v, _ := file.Sections[2].Get("note"); v != "it's fine" {
		t.Fatalf("note = %q", v)
	}
	if got := len(file.SectionsOfType("mbusd")); got != 2 {
		t.Fatalf("expected 2 mbusd sections, got %d", got)
	}
}

func TestParseUCIErrors(t *testing.T) {
	cases := map[string]string{
		"option outside section": "option foo 'bar'\n",
		"unterminated quote":     "config mbusd\n\toption device '/dev/ttyS0\n",
		"unknown keyword":        "section mbusd\n",
		"invalid type":           "config mb-usd\n",
		"missing value":          "config mbusd\n\toption device\n",
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseUCI(strings.NewReader(input)); err == nil {
				t.Fatalf("expected error for %q", input)
			}
		})
	}
}

func TestEncodeRoundTripKeepsOrderAndQuoting(t *testing.T) {
	file, err := ParseUCI(strings.NewReader(sampleUCI))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	var buf bytes.Buffer
	if err := file.Encode(&buf); err != nil {
		t.Fatalf("encode: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "config mbusd 'lab'\n") {
		t.Fatalf("named section lost:\n%s", out)
	}
	if !strings.Contains(out, `option note 'it'\''s fine'`) {
		t.Fatalf("quote escaping lost:\n%s", out)
	}

	again, err := ParseUCI(strings.NewReader(out))
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}
	if len(again.Sections) != len(file.Sections) {
		t.Fatalf("section count changed: %d != %d", len(again.Sections), len(file.Sections))
	}
	for i := range file.Sections {
		if again.Sections[i].Type != file.Sections[i].Type || again.Sections[i].Name != file.Sections[i].Name {
			t.Fatalf("section %d changed: %+v != %+v", i, again.Sections[i], file.Sections[i])
		}
	}
}

func TestSectionSetAndDelete(t *testing.T) {
	sec := &Section{Type: "mbusd"}
	sec.Set("port", "502")
	sec.Set("port", "503")
	sec.Set("device", "/dev/ttyS1")
	if len(sec.Options) != 2 {
		t.Fatalf("expected 2 options, got %d", len(sec.Options))
	}
	if v, _ := sec.Get("port"); v != "503" {
		t.Fatalf("port = %q", v)
	}
	sec.Delete("port")
	if _, ok := sec.Get("port"); ok {
		t.Fatalf("port still present after delete")
	}
}
