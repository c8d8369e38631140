package hl7

import (
	"fmt"
	"strings"
)

// Encode serializes the message back to pipe-delimited text with segments
// separated by carriage returns.
//
// When MSH-2 declares five encoding characters the segment grammar is still
// four-character, so encoding runs with the four-character default and the
// five-character value is swapped back into the rendered text afterwards.
// The in-memory message keeps its five-character MSH-2 throughout.
func (m *Message) Encode() (string, error) {
	enc := m.Encoding
	if !enc.valid() {
		return "", fmt.Errorf("hl7: invalid encoding declaration %q", enc.Chars)
	}

	fiveChars := enc.Chars
	hasFive := len(fiveChars) == 5
	if hasFive {
		enc.Chars = fiveChars[:4]
	}

	var b strings.Builder
	for i, seg := range m.Segments {
		if i > 0 {
			b.WriteByte('\r')
		}
		encodeSegment(&b, seg, enc)
	}
	out := b.String()
	if hasFive {
		out = strings.ReplaceAll(out, enc.Chars, fiveChars)
	}
	return out, nil
}

func encodeSegment(b *strings.Builder, seg *Segment, enc Encoding) {
	b.WriteString(seg.Name)
	if seg.Name == "MSH" {
		// MSH-1 and MSH-2 are the delimiter declarations themselves.
		b.WriteByte(enc.FieldSep)
		b.WriteString(enc.Chars)
		for _, f := range seg.Fields[min(2, len(seg.Fields)):] {
			b.WriteByte(enc.FieldSep)
			encodeField(b, f, enc)
		}
		return
	}
	for _, f := range seg.Fields {
		b.WriteByte(enc.FieldSep)
		encodeField(b, f, enc)
	}
}

func encodeField(b *strings.Builder, f Field, enc Encoding) {
	for ri, r := range f.Repeats {
		if ri > 0 {
			b.WriteByte(enc.repeatSep())
		}
		for ci, c := range r.Components {
			if ci > 0 {
				b.WriteByte(enc.componentSep())
			}
			for si, sub := range c.Subcomponents {
				if si > 0 {
					b.WriteByte(enc.subcomponentSep())
				}
				b.WriteString(escape(sub, enc))
			}
		}
	}
}

// escape protects delimiter characters in leaf values. The escape character
// itself goes first so the delimiter replacements cannot be double-escaped.
func escape(s string, enc Encoding) string {
	esc := string(enc.escapeChar())
	replacer := strings.NewReplacer(
		esc, esc+"E"+esc,
		string(enc.FieldSep), esc+"F"+esc,
		string(enc.componentSep()), esc+"S"+esc,
		string(enc.subcomponentSep()), esc+"T"+esc,
		string(enc.repeatSep()), esc+"R"+esc,
	)
	return replacer.Replace(s)
}
