package hl7

import "fmt"

// SchemaError marks a broken mapping schema or translator configuration.
// These are operator errors, fatal for every message using the schema.
type SchemaError struct {
	Schema string
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("hl7: schema %q: %s", e.Schema, e.Reason)
}

// RequiredElementError marks a required mapping target with no source value
// and no default.
type RequiredElementError struct {
	Element string
}

func (e *RequiredElementError) Error() string {
	return fmt.Sprintf("hl7: required element %q has no value", e.Element)
}

// ConversionError marks a source value that is present but not representable
// in the target encoding.
type ConversionError struct {
	Element string
	Value   string
	Reason  string
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("hl7: element %q: cannot convert %q: %s", e.Element, e.Value, e.Reason)
}
