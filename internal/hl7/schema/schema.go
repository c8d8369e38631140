// Package schema loads the mapping tables that drive the hl7 translator.
// A schema names each mapped element, the document path it lands on, and
// the precedence-ordered message fields it reads from.
package schema

import (
	"errors"
	"fmt"
	"io"

	"github.com/openelr/relay/internal/runtime/jsoncodec"
)

// ErrInvalid wraps all schema validation failures.
var ErrInvalid = errors.New("schema: invalid")

// Element maps one document path to its message-side sources. Sources are in
// precedence order and the first one carrying a value wins; later sources
// are never merged in.
type Element struct {
	Name     string   `json:"name"`
	Document string   `json:"document"`
	HL7      []string `json:"hl7"`
	Default  string   `json:"default,omitempty"`
	Required bool     `json:"required,omitempty"`
	Datatype string   `json:"datatype,omitempty"`
}

// RepeatGroup maps every occurrence of one segment onto an array of document
// objects. Element paths inside the group are relative to one occurrence.
type RepeatGroup struct {
	Segment  string    `json:"segment"`
	Document string    `json:"document"`
	Elements []Element `json:"elements"`
}

// Schema is one complete mapping table.
type Schema struct {
	Name        string        `json:"name"`
	MessageType string        `json:"messageType"`
	Elements    []Element     `json:"elements"`
	Repeats     []RepeatGroup `json:"repeats,omitempty"`
}

// Datatype values understood by the translator.
const (
	TypeString      = ""
	TypeDate        = "date"
	TypeNumber      = "number"
	TypeHD          = "hd"
	TypeDestination = "destination"
)

var knownDatatypes = map[string]bool{
	TypeString:      true,
	"string":        true,
	TypeDate:        true,
	TypeNumber:      true,
	TypeHD:          true,
	TypeDestination: true,
}

// Load reads and validates one schema from the given provider.
func Load(p Provider, uri string) (*Schema, error) {
	rc, err := p.Open(uri)
	if err != nil {
		return nil, fmt.Errorf("schema: open %q via %s provider: %w", uri, p.ProviderType(), err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("schema: read %q: %w", uri, err)
	}

	var s Schema
	if err := jsoncodec.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("schema: decode %q: %w", uri, err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("schema %q: %w", uri, err)
	}
	return &s, nil
}

// Validate checks structural soundness so a bad mapping table fails at load
// time instead of per message.
func (s *Schema) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("%w: missing name", ErrInvalid)
	}
	seen := make(map[string]bool)
	if err := validateElements(s.Elements, seen); err != nil {
		return err
	}
	for _, g := range s.Repeats {
		if g.Segment == "" || g.Document == "" {
			return fmt.Errorf("%w: repeat group needs segment and document", ErrInvalid)
		}
		if err := validateElements(g.Elements, seen); err != nil {
			return err
		}
	}
	return nil
}

func validateElements(elems []Element, seen map[string]bool) error {
	for _, e := range elems {
		switch {
		case e.Name == "":
			return fmt.Errorf("%w: element missing name", ErrInvalid)
		case seen[e.Name]:
			return fmt.Errorf("%w: duplicate element %q", ErrInvalid, e.Name)
		case e.Document == "":
			return fmt.Errorf("%w: element %q missing document path", ErrInvalid, e.Name)
		case len(e.HL7) == 0 && e.Default == "":
			return fmt.Errorf("%w: element %q has no sources and no default", ErrInvalid, e.Name)
		case !knownDatatypes[e.Datatype]:
			return fmt.Errorf("%w: element %q has unknown datatype %q", ErrInvalid, e.Name, e.Datatype)
		}
		seen[e.Name] = true
	}
	return nil
}
