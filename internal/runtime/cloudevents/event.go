// Package cloudevents provides CloudEvents v1.0 compatible event types and
// utilities for use within relay. Submission, delivery, and compensation
// notifications cross the broker in this format, with relay's reliability
// semantics carried as extension attributes.
package cloudevents

import (
	"encoding/json"
	"fmt"
	"time"

	idspkg "github.com/openelr/relay/internal/runtime/ids"
	"github.com/openelr/relay/internal/runtime/jsoncodec"
)

// SpecVersion is the CloudEvents specification version implemented.
const SpecVersion = "1.0"

// Event is a CloudEvents v1.0 event with relay extensions.
// See https://github.com/cloudevents/spec/blob/v1.0/spec.md.
type Event struct {
	// SpecVersion MUST be "1.0".
	SpecVersion string `json:"specversion"`

	// Type names the occurrence, in <resource>.<action>[.v<version>]
	// form. Relay emits types like report.submitted and
	// report.delivered.
	Type string `json:"type"`

	// Source identifies the producer, usually a service name or URI.
	Source string `json:"source"`

	// ID uniquely identifies the event. New generates one when unset.
	ID string `json:"id"`

	// Time is when the occurrence happened. New fills in the current
	// time.
	Time time.Time `json:"time,omitempty"`

	// DataContentType describes the data attribute, for example
	// "application/json".
	DataContentType *string `json:"datacontenttype,omitempty"`

	// DataSchema identifies the schema the data adheres to.
	DataSchema *string `json:"dataschema,omitempty"`

	// Subject narrows the event within the source, for example a report
	// path.
	Subject *string `json:"subject,omitempty"`

	// Data is the JSON-serializable event payload.
	Data any `json:"data,omitempty"`

	// DataBase64 holds base64-encoded binary payloads that cannot be
	// serialized as JSON directly.
	DataBase64 *string `json:"data_base64,omitempty"`

	// Extensions holds CloudEvents extension attributes. Relay's
	// reliability extensions use the "rl_" prefix.
	Extensions map[string]any `json:"extensions,omitempty"`
}

// New creates an event with a generated ID and the current UTC time.
func New(eventType, source string, data any) Event {
	return Event{
		SpecVersion: SpecVersion,
		Type:        eventType,
		Source:      source,
		ID:          idspkg.NewMessageID(),
		Time:        time.Now().UTC(),
		Data:        data,
		Extensions:  make(map[string]any),
	}
}

// NewWithID creates an event with a caller-chosen ID.
func NewWithID(id, eventType, source string, data any) Event {
	evt := New(eventType, source, data)
	evt.ID = id
	return evt
}

// WithSubject sets the subject and returns the event.
func (e Event) WithSubject(subject string) Event {
	e.Subject = &subject
	return e
}

// WithDataContentType sets the data content type and returns the event.
func (e Event) WithDataContentType(contentType string) Event {
	e.DataContentType = &contentType
	return e
}

// WithDataSchema sets the data schema and returns the event.
func (e Event) WithDataSchema(schema string) Event {
	e.DataSchema = &schema
	return e
}

// WithExtension sets an extension attribute and returns the event.
func (e Event) WithExtension(key string, value any) Event {
	if e.Extensions == nil {
		e.Extensions = make(map[string]any)
	}
	e.Extensions[key] = value
	return e
}

// GetExtension retrieves an extension value, or nil when absent.
func (e Event) GetExtension(key string) any {
	if e.Extensions == nil {
		return nil
	}
	return e.Extensions[key]
}

// GetExtensionString retrieves an extension as a string, rendering
// non-string values with %v. Absent keys return "".
func (e Event) GetExtensionString(key string) string {
	v := e.GetExtension(key)
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// GetExtensionInt retrieves an extension as an int. Numeric JSON values
// arrive as float64 after a round trip, so those convert too. Anything
// else returns 0.
func (e Event) GetExtensionInt(key string) int {
	return int(e.GetExtensionInt64(key))
}

// GetExtensionInt64 retrieves an extension as an int64, converting the
// numeric types JSON decoding can produce. Anything else returns 0.
func (e Event) GetExtensionInt64(key string) int64 {
	switch n := e.GetExtension(key).(type) {
	case int:
		return int64(n)
	case int64:
		return n
	case float64:
		return int64(n)
	case json.Number:
		i, _ := n.Int64()
		return i
	default:
		return 0
	}
}

// GetExtensionBool retrieves an extension as a bool. Absent or non-bool
// values return false.
func (e Event) GetExtensionBool(key string) bool {
	b, ok := e.GetExtension(key).(bool)
	return ok && b
}

// GetExtensionTime retrieves an extension as a time.Time, accepting
// time.Time values, RFC3339 strings, and unix second timestamps. Anything
// else returns the zero time.
func (e Event) GetExtensionTime(key string) time.Time {
	switch t := e.GetExtension(key).(type) {
	case time.Time:
		return t
	case string:
		parsed, err := time.Parse(time.RFC3339, t)
		if err != nil {
			return time.Time{}
		}
		return parsed
	case int64:
		return time.Unix(t, 0)
	case float64:
		return time.Unix(int64(t), 0)
	case json.Number:
		i, _ := t.Int64()
		return time.Unix(i, 0)
	default:
		return time.Time{}
	}
}

// Validate checks the required CloudEvents attributes.
func (e Event) Validate() error {
	if e.SpecVersion == "" {
		return fmt.Errorf("specversion is required")
	}
	if e.SpecVersion != SpecVersion {
		return fmt.Errorf("specversion must be %q, got %q", SpecVersion, e.SpecVersion)
	}
	if e.Type == "" {
		return fmt.Errorf("type is required")
	}
	if e.Source == "" {
		return fmt.Errorf("source is required")
	}
	if e.ID == "" {
		return fmt.Errorf("id is required")
	}
	return nil
}

// Clone copies the event, detaching the optional pointers and the
// extensions map. Data is shared.
func (e Event) Clone() Event {
	cloned := e
	cloned.DataContentType = clonePtr(e.DataContentType)
	cloned.DataSchema = clonePtr(e.DataSchema)
	cloned.Subject = clonePtr(e.Subject)
	cloned.DataBase64 = clonePtr(e.DataBase64)

	if e.Extensions != nil {
		cloned.Extensions = make(map[string]any, len(e.Extensions))
		for k, v := range e.Extensions {
			cloned.Extensions[k] = v
		}
	}
	return cloned
}

func clonePtr(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// coreAttributes are the member names CloudEvents defines; everything else in a
// JSON event object is an extension.
var coreAttributes = map[string]bool{
	"specversion":     true,
	"type":            true,
	"source":          true,
	"id":              true,
	"time":            true,
	"datacontenttype": true,
	"dataschema":      true,
	"subject":         true,
	"data":            true,
	"data_base64":     true,
}

// MarshalJSON renders the CloudEvents JSON format: extensions flatten into the
// top-level object alongside the core attributes.
func (e Event) MarshalJSON() ([]byte, error) {
	m := make(map[string]any)

	m["specversion"] = e.SpecVersion
	m["type"] = e.Type
	m["source"] = e.Source
	m["id"] = e.ID

	if !e.Time.IsZero() {
		m["time"] = e.Time.Format(time.RFC3339Nano)
	}
	if e.DataContentType != nil {
		m["datacontenttype"] = *e.DataContentType
	}
	if e.DataSchema != nil {
		m["dataschema"] = *e.DataSchema
	}
	if e.Subject != nil {
		m["subject"] = *e.Subject
	}
	if e.Data != nil {
		m["data"] = e.Data
	}
	if e.DataBase64 != nil {
		m["data_base64"] = *e.DataBase64
	}

	for k, v := range e.Extensions {
		m[k] = v
	}

	return jsoncodec.Marshal(m)
}

// UnmarshalJSON parses the CloudEvents JSON format, collecting unknown
// top-level members into Extensions.
func (e *Event) UnmarshalJSON(data []byte) error {
	var m map[string]json.RawMessage
	if err := jsoncodec.Unmarshal(data, &m); err != nil {
		return err
	}

	if err := decodeAttr(m, "specversion", &e.SpecVersion); err != nil {
		return err
	}
	if err := decodeAttr(m, "type", &e.Type); err != nil {
		return err
	}
	if err := decodeAttr(m, "source", &e.Source); err != nil {
		return err
	}
	if err := decodeAttr(m, "id", &e.ID); err != nil {
		return err
	}

	if raw, ok := m["time"]; ok {
		var timeStr string
		if err := jsoncodec.Unmarshal(raw, &timeStr); err != nil {
			return fmt.Errorf("invalid time: %w", err)
		}
		t, err := time.Parse(time.RFC3339Nano, timeStr)
		if err != nil {
			t, err = time.Parse(time.RFC3339, timeStr)
			if err != nil {
				return fmt.Errorf("invalid time format: %w", err)
			}
		}
		e.Time = t
	}

	if err := decodeOptionalAttr(m, "datacontenttype", &e.DataContentType); err != nil {
		return err
	}
	if err := decodeOptionalAttr(m, "dataschema", &e.DataSchema); err != nil {
		return err
	}
	if err := decodeOptionalAttr(m, "subject", &e.Subject); err != nil {
		return err
	}
	if err := decodeOptionalAttr(m, "data_base64", &e.DataBase64); err != nil {
		return err
	}

	if raw, ok := m["data"]; ok {
		var v any
		if err := jsoncodec.Unmarshal(raw, &v); err != nil {
			return fmt.Errorf("invalid data: %w", err)
		}
		e.Data = v
	}

	e.Extensions = make(map[string]any)
	for k, raw := range m {
		if coreAttributes[k] {
			continue
		}
		var v any
		if err := jsoncodec.Unmarshal(raw, &v); err != nil {
			return fmt.Errorf("invalid extension %q: %w", k, err)
		}
		e.Extensions[k] = v
	}

	return nil
}

func decodeAttr(m map[string]json.RawMessage, name string, dst *string) error {
	raw, ok := m[name]
	if !ok {
		return nil
	}
	if err := jsoncodec.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	return nil
}

func decodeOptionalAttr(m map[string]json.RawMessage, name string, dst **string) error {
	raw, ok := m[name]
	if !ok {
		return nil
	}
	var v string
	if err := jsoncodec.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	*dst = &v
	return nil
}
