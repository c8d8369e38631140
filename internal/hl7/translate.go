package hl7

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/openelr/relay/internal/hl7/schema"
)

// SchemaContext carries everything one translation call needs. It is
// constructed once at startup and passed explicitly into every call, so
// tests and parallel pipelines can hold isolated instances.
type SchemaContext struct {
	Schema     *schema.Schema
	Truncation TruncationConfig
}

// NewSchemaContext loads the named schema through the given provider.
func NewSchemaContext(p schema.Provider, uri string, trunc TruncationConfig) (*SchemaContext, error) {
	s, err := schema.Load(p, uri)
	if err != nil {
		return nil, &SchemaError{Schema: uri, Reason: err.Error()}
	}
	return &SchemaContext{Schema: s, Truncation: trunc}, nil
}

// ToDocument maps a parsed message onto the clinical-document form declared
// by the schema.
func ToDocument(msg *Message, sctx *SchemaContext) (*Document, error) {
	if sctx == nil || sctx.Schema == nil {
		return nil, &SchemaError{Schema: "", Reason: "nil schema context"}
	}
	doc := NewDocument()
	for _, elem := range sctx.Schema.Elements {
		if err := mapToDocument(msg, doc, elem, noOccurrence); err != nil {
			return nil, err
		}
	}
	for _, group := range sctx.Schema.Repeats {
		count := msg.SegmentCount(group.Segment)
		for i := 0; i < count; i++ {
			item := NewDocument()
			for _, elem := range group.Elements {
				if err := mapToDocument(msg, item, elem, i); err != nil {
					return nil, err
				}
			}
			doc.Append(group.Document, item)
		}
	}
	return doc, nil
}

// ToMessage maps a clinical document back onto a message. Values are
// truncated per the context's truncation config as they are written.
func ToMessage(doc *Document, sctx *SchemaContext) (*Message, error) {
	if sctx == nil || sctx.Schema == nil {
		return nil, &SchemaError{Schema: "", Reason: "nil schema context"}
	}
	msg := NewMessage()
	msg.AppendSegment("MSH")
	for _, elem := range sctx.Schema.Elements {
		if err := mapToMessage(doc, msg, elem, sctx.Truncation, noOccurrence); err != nil {
			return nil, err
		}
	}
	for _, group := range sctx.Schema.Repeats {
		for i, item := range doc.Items(group.Document) {
			for _, elem := range group.Elements {
				if err := mapToMessage(item, msg, elem, sctx.Truncation, i); err != nil {
					return nil, err
				}
			}
		}
	}
	return msg, nil
}

const noOccurrence = -1

// mapToDocument resolves one element from its precedence-ordered sources.
// The first source carrying a value wins outright; partial values from a
// lower-precedence source are never merged in.
func mapToDocument(msg *Message, doc *Document, elem schema.Element, occurrence int) error {
	if elem.Datatype == schema.TypeDestination {
		return mapDestinationsToDocument(msg, doc, elem, occurrence)
	}

	value := ""
	for _, src := range elem.HL7 {
		v, err := msg.Get(applyOccurrence(src, occurrence))
		if err != nil {
			return &SchemaError{Schema: elem.Name, Reason: err.Error()}
		}
		if elem.Datatype == schema.TypeHD {
			v = hdSourceValue(msg, applyOccurrence(src, occurrence))
		}
		if v != "" {
			value = v
			break
		}
	}
	if value == "" {
		value = elem.Default
	}
	if value == "" {
		if elem.Required {
			return &RequiredElementError{Element: elem.Name}
		}
		return nil
	}

	converted, err := convertValue(elem, value)
	if err != nil {
		return err
	}
	doc.Set(elem.Document, converted)
	return nil
}

// mapDestinationsToDocument gathers every populated destination source,
// collapses logically-equivalent values, and preserves distinct ones in
// source order.
func mapDestinationsToDocument(msg *Message, doc *Document, elem schema.Element, occurrence int) error {
	var values []string
	seen := make(map[string]bool)
	for _, src := range elem.HL7 {
		v, err := msg.Get(applyOccurrence(src, occurrence))
		if err != nil {
			return &SchemaError{Schema: elem.Name, Reason: err.Error()}
		}
		if v == "" {
			continue
		}
		key := destinationKey(v)
		if seen[key] {
			continue
		}
		seen[key] = true
		values = append(values, strings.TrimSpace(v))
	}
	if len(values) == 0 {
		if elem.Required {
			return &RequiredElementError{Element: elem.Name}
		}
		return nil
	}
	doc.SetStrings(elem.Document, values)
	return nil
}

// destinationKey normalizes a destination address for equivalence checks.
// Case and surrounding whitespace never distinguish two destinations.
func destinationKey(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}

func mapToMessage(doc *Document, msg *Message, elem schema.Element, trunc TruncationConfig, occurrence int) error {
	if len(elem.HL7) == 0 {
		return nil
	}
	target := applyOccurrence(elem.HL7[0], occurrence)

	if elem.Datatype == schema.TypeDestination {
		values := doc.Strings(elem.Document)
		for i, v := range values {
			if i >= len(elem.HL7) {
				break
			}
			path := applyOccurrence(elem.HL7[i], occurrence)
			if err := msg.Set(path, trunc.Truncate(FieldName(path), v)); err != nil {
				return &SchemaError{Schema: elem.Name, Reason: err.Error()}
			}
		}
		return nil
	}

	value := doc.Get(elem.Document)
	if value == "" {
		value = elem.Default
	}
	if value == "" {
		if elem.Required {
			return &RequiredElementError{Element: elem.Name}
		}
		return nil
	}

	converted, err := convertValue(elem, value)
	if err != nil {
		return err
	}

	if elem.Datatype == schema.TypeHD {
		return writeHD(msg, target, converted, trunc)
	}
	if err := msg.Set(target, trunc.Truncate(FieldName(target), converted)); err != nil {
		return &SchemaError{Schema: elem.Name, Reason: err.Error()}
	}
	return nil
}

// hdSourceValue reads the three-component designator rooted at a field path
// and renders its document form.
func hdSourceValue(msg *Message, fieldPath string) string {
	ns, _ := msg.Get(fieldPath + "-1")
	id, _ := msg.Get(fieldPath + "-2")
	idType, _ := msg.Get(fieldPath + "-3")
	if ns == "" && id == "" && idType == "" {
		return ""
	}
	return ParseHD(ns, id, idType).DocumentValue()
}

func writeHD(msg *Message, fieldPath, docValue string, trunc TruncationConfig) error {
	hd := HDFromDocument(docValue)
	ns, id, idType := hd.Components()
	field := FieldName(fieldPath)
	if err := msg.Set(fieldPath+"-1", trunc.Truncate(field, ns)); err != nil {
		return err
	}
	if id != "" {
		if err := msg.Set(fieldPath+"-2", id); err != nil {
			return err
		}
	}
	if idType != "" {
		if err := msg.Set(fieldPath+"-3", idType); err != nil {
			return err
		}
	}
	return nil
}

// hl7Timestamps are the accepted TS precisions, most precise first.
var hl7Timestamps = []string{
	"20060102150405.0000-0700",
	"20060102150405-0700",
	"20060102150405",
	"200601021504",
	"20060102",
}

func convertValue(elem schema.Element, value string) (string, error) {
	switch elem.Datatype {
	case schema.TypeDate:
		for _, layout := range hl7Timestamps {
			if _, err := time.Parse(layout, value); err == nil {
				return value, nil
			}
		}
		return "", &ConversionError{Element: elem.Name, Value: value, Reason: "not a recognized timestamp"}
	case schema.TypeNumber:
		if _, err := strconv.ParseFloat(value, 64); err != nil {
			return "", &ConversionError{Element: elem.Name, Value: value, Reason: "not numeric"}
		}
		return value, nil
	default:
		return value, nil
	}
}

// applyOccurrence rewrites a relative repeat-group path like "OBX-3-1" to
// address the nth occurrence of its segment.
func applyOccurrence(path string, occurrence int) string {
	if occurrence <= 0 {
		return path
	}
	dash := strings.IndexByte(path, '-')
	if dash < 0 {
		return path
	}
	return fmt.Sprintf("%s(%d)%s", path[:dash], occurrence, path[dash:])
}
