package models

import (
	"fmt"
	"regexp"
	"strings"
)

// StructuredMemory is the parsed form of the `<memory type="T"
// domain="D">...</memory>` schema (§3, §6). Only the child tags named
// in FieldSubset[Type] are expected to be populated for a given type.
type StructuredMemory struct {
	Type   RecordType
	Domain string
	What   string
	When   string
	Do     string
	Warn   string
}

// escapeXML applies the minimal escaping rule §6 specifies: only &, <,
// > are escaped. encoding/xml's generic marshaler also escapes quotes
// and chooses its own attribute/self-closing conventions, so this is
// hand-rolled to match the exact rule rather than reused.
func escapeXML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}

func unescapeXML(s string) string {
	s = strings.ReplaceAll(s, "&lt;", "<")
	s = strings.ReplaceAll(s, "&gt;", ">")
	s = strings.ReplaceAll(s, "&amp;", "&")
	return s
}

// Marshal renders the structured memory using only the field subset
// allowed for its type (§4.3).
func (m StructuredMemory) Marshal() string {
	fields := FieldSubset[m.Type]
	if fields == nil {
		fields = []string{"what"}
	}
	var b strings.Builder
	fmt.Fprintf(&b, `<memory type="%s" domain="%s">`, escapeXML(string(m.Type)), escapeXML(m.Domain))
	values := map[string]string{"what": m.What, "when": m.When, "do": m.Do, "warn": m.Warn}
	for _, tag := range fields {
		v := values[tag]
		if v == "" {
			continue
		}
		fmt.Fprintf(&b, "<%s>%s</%s>", tag, escapeXML(v), tag)
	}
	b.WriteString("</memory>")
	return b.String()
}

var (
	attrRe = regexp.MustCompile(`<memory\s+type="([^"]*)"\s+domain="([^"]*)"\s*>`)
	tagRe  = regexp.MustCompile(`(?s)<(what|when|do|warn)>(.*?)</(?:what|when|do|warn)>`)
)

// ParseStructuredMemory parses the XML form back into a StructuredMemory.
// It is a small hand-rolled parser, not encoding/xml, for the same
// reason Marshal hand-rolls escaping: the schema is a fixed, narrow
// subset and a general-purpose XML decoder is more machinery than the
// shape warrants.
func ParseStructuredMemory(xml string) (StructuredMemory, error) {
	m := attrRe.FindStringSubmatch(xml)
	if m == nil {
		return StructuredMemory{}, fmt.Errorf("parse structured memory: missing <memory type=.. domain=..> header")
	}
	sm := StructuredMemory{Type: RecordType(unescapeXML(m[1])), Domain: unescapeXML(m[2])}
	for _, tm := range tagRe.FindAllStringSubmatch(xml, -1) {
		v := unescapeXML(tm[2])
		switch tm[1] {
		case "what":
			sm.What = v
		case "when":
			sm.When = v
		case "do":
			sm.Do = v
		case "warn":
			sm.Warn = v
		}
	}
	return sm, nil
}
