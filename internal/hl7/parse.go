package hl7

import (
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyMessage is returned when the input contains no segments.
var ErrEmptyMessage = errors.New("hl7: empty message")

// Parse decodes pipe-delimited text into a Message. The delimiter set is
// taken from MSH-1 and MSH-2, which must form the first segment. MSH-2 may
// declare four or five encoding characters.
func Parse(text string) (*Message, error) {
	lines := splitSegments(text)
	if len(lines) == 0 {
		return nil, ErrEmptyMessage
	}
	if len(lines[0]) < 8 || lines[0][:3] != "MSH" {
		return nil, fmt.Errorf("hl7: message must start with an MSH segment")
	}

	enc := Encoding{FieldSep: lines[0][3]}
	rest := lines[0][4:]
	sepIdx := strings.IndexByte(rest, enc.FieldSep)
	if sepIdx < 0 {
		sepIdx = len(rest)
	}
	enc.Chars = rest[:sepIdx]
	if !enc.valid() {
		return nil, fmt.Errorf("hl7: MSH-2 must declare 4 or 5 encoding characters, got %q", enc.Chars)
	}

	msg := &Message{Encoding: enc}
	for i, line := range lines {
		seg, err := parseSegment(line, enc, i == 0)
		if err != nil {
			return nil, err
		}
		msg.Segments = append(msg.Segments, seg)
	}
	return msg, nil
}

func splitSegments(text string) []string {
	raw := strings.FieldsFunc(text, func(r rune) bool {
		return r == '\r' || r == '\n'
	})
	lines := raw[:0]
	for _, l := range raw {
		if strings.TrimSpace(l) != "" {
			lines = append(lines, l)
		}
	}
	return lines
}

func parseSegment(line string, enc Encoding, isMSH bool) (*Segment, error) {
	if len(line) < 3 {
		return nil, fmt.Errorf("hl7: segment line too short: %q", line)
	}
	seg := &Segment{Name: line[:3]}

	var rawFields []string
	if isMSH {
		// MSH-1 is the field separator itself and MSH-2 the encoding
		// characters. Both are delimiter declarations, kept verbatim.
		rawFields = append(rawFields, string(enc.FieldSep), enc.Chars)
		body := line[4+len(enc.Chars):]
		body = strings.TrimPrefix(body, string(enc.FieldSep))
		if body != "" {
			rawFields = append(rawFields, strings.Split(body, string(enc.FieldSep))...)
		}
	} else {
		body := strings.TrimPrefix(line[3:], string(enc.FieldSep))
		rawFields = strings.Split(body, string(enc.FieldSep))
	}

	for i, raw := range rawFields {
		if isMSH && i < 2 {
			seg.Fields = append(seg.Fields, literalField(raw))
			continue
		}
		seg.Fields = append(seg.Fields, parseField(raw, enc))
	}
	return seg, nil
}

func literalField(raw string) Field {
	return Field{Repeats: []Repeat{{Components: []Component{{Subcomponents: []string{raw}}}}}}
}

func parseField(raw string, enc Encoding) Field {
	var f Field
	for _, rep := range strings.Split(raw, string(enc.repeatSep())) {
		var r Repeat
		for _, comp := range strings.Split(rep, string(enc.componentSep())) {
			var c Component
			for _, sub := range strings.Split(comp, string(enc.subcomponentSep())) {
				c.Subcomponents = append(c.Subcomponents, unescape(sub, enc))
			}
			r.Components = append(r.Components, c)
		}
		f.Repeats = append(f.Repeats, r)
	}
	return f
}

// unescape resolves the standard delimiter escape sequences. Unrecognized
// sequences are preserved verbatim rather than dropped.
func unescape(s string, enc Encoding) string {
	esc := enc.escapeChar()
	if strings.IndexByte(s, esc) < 0 {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != esc {
			b.WriteByte(s[i])
			continue
		}
		end := strings.IndexByte(s[i+1:], esc)
		if end < 0 {
			b.WriteByte(s[i])
			continue
		}
		seq := s[i+1 : i+1+end]
		switch seq {
		case "F":
			b.WriteByte(enc.FieldSep)
		case "S":
			b.WriteByte(enc.componentSep())
		case "T":
			b.WriteByte(enc.subcomponentSep())
		case "R":
			b.WriteByte(enc.repeatSep())
		case "E":
			b.WriteByte(esc)
		default:
			b.WriteByte(esc)
			b.WriteString(seq)
			b.WriteByte(esc)
		}
		i += end + 1
	}
	return b.String()
}
