// Package hl7 implements a bidirectional codec between pipe-delimited HL7v2
// messages and the clinical-document form the pipeline routes internally.
// Mapping between the two is schema driven, see the schema subpackage.
package hl7

import (
	"fmt"
	"strings"
)

const (
	// EncodingCharsFour is the standard MSH-2 value.
	EncodingCharsFour = `^~\&`

	// EncodingCharsFive is the MSH-2 value used by senders that also declare
	// the truncation character. The underlying grammar is four characters, so
	// the fifth is stripped before encoding and restored only in final text.
	EncodingCharsFive = `^~\&#`
)

// Encoding holds the delimiter set declared by MSH-1 and MSH-2.
type Encoding struct {
	FieldSep byte
	Chars    string
}

// DefaultEncoding is the delimiter set of virtually all real-world traffic.
func DefaultEncoding() Encoding {
	return Encoding{FieldSep: '|', Chars: EncodingCharsFour}
}

func (e Encoding) componentSep() byte    { return e.Chars[0] }
func (e Encoding) repeatSep() byte       { return e.Chars[1] }
func (e Encoding) escapeChar() byte      { return e.Chars[2] }
func (e Encoding) subcomponentSep() byte { return e.Chars[3] }

func (e Encoding) valid() bool {
	if e.FieldSep == 0 {
		return false
	}
	return len(e.Chars) == 4 || len(e.Chars) == 5
}

// Message is a parsed HL7v2 message, a flat sequence of segments.
type Message struct {
	Encoding Encoding
	Segments []*Segment
}

// Segment is one line of a message. Fields[0] is the first field after the
// segment name. For MSH the first two fields hold the delimiter declarations
// verbatim and are never escaped.
type Segment struct {
	Name   string
	Fields []Field
}

// Field is one field slot, possibly repeated.
type Field struct {
	Repeats []Repeat
}

// Repeat is one occurrence of a repeated field.
type Repeat struct {
	Components []Component
}

// Component holds the subcomponent leaves of one component.
type Component struct {
	Subcomponents []string
}

// NewMessage returns an empty message with the default delimiter set.
func NewMessage() *Message {
	return &Message{Encoding: DefaultEncoding()}
}

// Segment returns the nth occurrence (zero-based) of the named segment, or
// nil when the message has fewer occurrences.
func (m *Message) Segment(name string, occurrence int) *Segment {
	seen := 0
	for _, seg := range m.Segments {
		if seg.Name != name {
			continue
		}
		if seen == occurrence {
			return seg
		}
		seen++
	}
	return nil
}

// SegmentCount reports how many occurrences of the named segment exist.
func (m *Message) SegmentCount(name string) int {
	n := 0
	for _, seg := range m.Segments {
		if seg.Name == name {
			n++
		}
	}
	return n
}

// AppendSegment adds an empty segment with the given name and returns it.
func (m *Message) AppendSegment(name string) *Segment {
	seg := &Segment{Name: name}
	m.Segments = append(m.Segments, seg)
	return seg
}

// Type returns the message type code from MSH-9, e.g. "ORU^R01".
func (m *Message) Type() string {
	msh := m.Segment("MSH", 0)
	if msh == nil {
		return ""
	}
	v1 := msh.value(8, 0, 0, 0)
	v2 := msh.value(8, 0, 1, 0)
	if v2 == "" {
		return v1
	}
	return v1 + "^" + v2
}

// value reads a leaf by zero-based indexes, returning "" past the end.
func (s *Segment) value(field, repeat, component, sub int) string {
	if field >= len(s.Fields) {
		return ""
	}
	f := s.Fields[field]
	if repeat >= len(f.Repeats) {
		return ""
	}
	r := f.Repeats[repeat]
	if component >= len(r.Components) {
		return ""
	}
	c := r.Components[component]
	if sub >= len(c.Subcomponents) {
		return ""
	}
	return c.Subcomponents[sub]
}

// setValue writes a leaf by zero-based indexes, growing slices as needed.
func (s *Segment) setValue(field, repeat, component, sub int, v string) {
	for len(s.Fields) <= field {
		s.Fields = append(s.Fields, Field{})
	}
	f := &s.Fields[field]
	for len(f.Repeats) <= repeat {
		f.Repeats = append(f.Repeats, Repeat{})
	}
	r := &f.Repeats[repeat]
	for len(r.Components) <= component {
		r.Components = append(r.Components, Component{})
	}
	c := &r.Components[component]
	for len(c.Subcomponents) <= sub {
		c.Subcomponents = append(c.Subcomponents, "")
	}
	c.Subcomponents[sub] = v
}

func (s *Segment) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%d fields)", s.Name, len(s.Fields))
	return b.String()
}
