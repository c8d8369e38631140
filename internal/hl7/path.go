package hl7

import (
	"fmt"
	"strconv"
	"strings"
)

// fieldRef is a parsed field path like "PID-5-1", "OBX(2)-3" or
// "PID-3(1)-4-2". Segment and field repeat indexes are zero-based in
// parentheses; field, component and subcomponent numbers are the usual
// one-based HL7 positions.
type fieldRef struct {
	Segment      string
	SegmentOccur int
	Field        int
	FieldRepeat  int
	Component    int // 1-based, 0 means first
	Subcomponent int // 1-based, 0 means first
}

func parseFieldRef(path string) (fieldRef, error) {
	ref := fieldRef{}
	parts := strings.Split(path, "-")
	if len(parts) < 2 || len(parts) > 4 {
		return ref, fmt.Errorf("hl7: bad field path %q", path)
	}

	seg, occur, err := splitOccurrence(parts[0])
	if err != nil {
		return ref, fmt.Errorf("hl7: bad field path %q: %w", path, err)
	}
	if len(seg) != 3 {
		return ref, fmt.Errorf("hl7: bad segment name in path %q", path)
	}
	ref.Segment = seg
	ref.SegmentOccur = occur

	fieldPart, rep, err := splitOccurrence(parts[1])
	if err != nil {
		return ref, fmt.Errorf("hl7: bad field path %q: %w", path, err)
	}
	ref.Field, err = strconv.Atoi(fieldPart)
	if err != nil || ref.Field < 1 {
		return ref, fmt.Errorf("hl7: bad field number in path %q", path)
	}
	ref.FieldRepeat = rep

	if len(parts) > 2 {
		ref.Component, err = strconv.Atoi(parts[2])
		if err != nil || ref.Component < 1 {
			return ref, fmt.Errorf("hl7: bad component number in path %q", path)
		}
	}
	if len(parts) > 3 {
		ref.Subcomponent, err = strconv.Atoi(parts[3])
		if err != nil || ref.Subcomponent < 1 {
			return ref, fmt.Errorf("hl7: bad subcomponent number in path %q", path)
		}
	}
	return ref, nil
}

func splitOccurrence(s string) (name string, occur int, err error) {
	open := strings.IndexByte(s, '(')
	if open < 0 {
		return s, 0, nil
	}
	if !strings.HasSuffix(s, ")") {
		return "", 0, fmt.Errorf("unbalanced occurrence index in %q", s)
	}
	occur, err = strconv.Atoi(s[open+1 : len(s)-1])
	if err != nil || occur < 0 {
		return "", 0, fmt.Errorf("bad occurrence index in %q", s)
	}
	return s[:open], occur, nil
}

// FieldName strips component, subcomponent and occurrence indexes from a
// field path, leaving the "SEG-n" form truncation limits are keyed on.
func FieldName(path string) string {
	ref, err := parseFieldRef(path)
	if err != nil {
		return strings.TrimSpace(path)
	}
	return fmt.Sprintf("%s-%d", ref.Segment, ref.Field)
}

// Get reads the leaf value addressed by path, returning "" when any level of
// the path does not exist. Only malformed paths error.
func (m *Message) Get(path string) (string, error) {
	ref, err := parseFieldRef(path)
	if err != nil {
		return "", err
	}
	seg := m.Segment(ref.Segment, ref.SegmentOccur)
	if seg == nil {
		return "", nil
	}
	return seg.value(ref.Field-1, ref.FieldRepeat, oneBased(ref.Component), oneBased(ref.Subcomponent)), nil
}

// Set writes the leaf value addressed by path, creating the segment and any
// intermediate structure as needed.
func (m *Message) Set(path, value string) error {
	ref, err := parseFieldRef(path)
	if err != nil {
		return err
	}
	seg := m.Segment(ref.Segment, ref.SegmentOccur)
	for seg == nil {
		m.AppendSegment(ref.Segment)
		seg = m.Segment(ref.Segment, ref.SegmentOccur)
	}
	seg.setValue(ref.Field-1, ref.FieldRepeat, oneBased(ref.Component), oneBased(ref.Subcomponent), value)
	return nil
}

func oneBased(n int) int {
	if n == 0 {
		return 0
	}
	return n - 1
}
