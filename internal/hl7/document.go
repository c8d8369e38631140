package hl7

import (
	"fmt"
	"sort"
	"strings"

	"github.com/openelr/relay/internal/runtime/jsoncodec"
)

// Document is the clinical-document form the pipeline routes internally, a
// nested JSON object addressed by dotted paths. Leaf values are strings;
// repeat groups are arrays of objects.
type Document struct {
	root map[string]any
}

func NewDocument() *Document {
	return &Document{root: make(map[string]any)}
}

// ParseDocument decodes a serialized document.
func ParseDocument(data []byte) (*Document, error) {
	var root map[string]any
	if err := jsoncodec.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("hl7: decode document: %w", err)
	}
	if root == nil {
		root = make(map[string]any)
	}
	return &Document{root: root}, nil
}

// Bytes serializes the document.
func (d *Document) Bytes() ([]byte, error) {
	return jsoncodec.Marshal(d.root)
}

// Get reads the string leaf at a dotted path, "" when absent.
func (d *Document) Get(path string) string {
	v, ok := lookup(d.root, path)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// Set writes a string leaf at a dotted path, creating intermediate objects.
func (d *Document) Set(path, value string) {
	store(d.root, path, value)
}

// Strings reads the string array at a dotted path.
func (d *Document) Strings(path string) []string {
	v, ok := lookup(d.root, path)
	if !ok {
		return nil
	}
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// SetStrings writes a string array at a dotted path.
func (d *Document) SetStrings(path string, values []string) {
	items := make([]any, len(values))
	for i, v := range values {
		items[i] = v
	}
	store(d.root, path, items)
}

// Items reads the object array at a dotted path as sub-documents.
func (d *Document) Items(path string) []*Document {
	v, ok := lookup(d.root, path)
	if !ok {
		return nil
	}
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]*Document, 0, len(items))
	for _, it := range items {
		if m, ok := it.(map[string]any); ok {
			out = append(out, &Document{root: m})
		}
	}
	return out
}

// Append adds a sub-document to the object array at a dotted path.
func (d *Document) Append(path string, item *Document) {
	v, _ := lookup(d.root, path)
	items, _ := v.([]any)
	items = append(items, item.root)
	store(d.root, path, items)
}

func lookup(root map[string]any, path string) (any, bool) {
	cur := any(root)
	for _, key := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func store(root map[string]any, path string, value any) {
	keys := strings.Split(path, ".")
	m := root
	for _, key := range keys[:len(keys)-1] {
		next, ok := m[key].(map[string]any)
		if !ok {
			next = make(map[string]any)
			m[key] = next
		}
		m = next
	}
	m[keys[len(keys)-1]] = value
}

// BundleDigest is a read-only summary of one translated document, produced
// fresh per document for observability and never persisted as a primary
// record.
type BundleDigest struct {
	EventCode                     string
	PatientJurisdictions          []string
	PerformerJurisdictions        []string
	OrderingFacilityJurisdictions []string
}

// DigestDocument extracts the event classifier and the distinct jurisdiction
// values present in the document. Result slices are sorted so equal
// documents digest equally.
func DigestDocument(doc *Document) BundleDigest {
	dg := BundleDigest{EventCode: doc.Get("meta.eventCode")}
	dg.PatientJurisdictions = distinct(doc.Get("patient.address.state"))

	var performer []string
	if v := doc.Get("performer.address.state"); v != "" {
		performer = append(performer, v)
	}
	for _, obs := range doc.Items("observations") {
		if v := obs.Get("performer.address.state"); v != "" {
			performer = append(performer, v)
		}
	}
	dg.PerformerJurisdictions = distinct(performer...)
	dg.OrderingFacilityJurisdictions = distinct(doc.Get("orderingFacility.address.state"))
	return dg
}

func distinct(values ...string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, v := range values {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
