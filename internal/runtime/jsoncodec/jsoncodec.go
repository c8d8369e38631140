// Package jsoncodec is the single JSON entry point for the module.
// Envelopes, CloudEvents, and typed handler payloads all serialize through
// sonic in encoding/json-compatible mode, so switching the implementation
// means changing one file.
package jsoncodec

import (
	"io"

	"github.com/bytedance/sonic"
)

// ConfigStd matches encoding/json semantics (HTML escaping, sorted map
// keys), which keeps digests over serialized envelopes stable.
var api = sonic.ConfigStd

// Marshal encodes v as JSON.
func Marshal(v any) ([]byte, error) {
	return api.Marshal(v)
}

// MarshalIndent encodes v as indented JSON, for logs and the web UI.
func MarshalIndent(v any, prefix, indent string) ([]byte, error) {
	return api.MarshalIndent(v, prefix, indent)
}

// Unmarshal decodes JSON data into v.
func Unmarshal(data []byte, v any) error {
	return api.Unmarshal(data, v)
}

// Encode streams v as JSON to w.
func Encode(w io.Writer, v any) error {
	return api.NewEncoder(w).Encode(v)
}

// Decode reads one JSON value from r into v.
func Decode(r io.Reader, v any) error {
	return api.NewDecoder(r).Decode(v)
}
