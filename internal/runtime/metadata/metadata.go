// Package metadata holds the string headers that travel with every broker
// message: correlation IDs, retry counters, delivery delays, dead-letter
// markers. Values are copied on every write so a header map handed to one
// publish can never leak mutations into another.
package metadata

// Metadata is the header map attached to a published message.
type Metadata map[string]string

// New builds a Metadata from alternating key/value arguments. A trailing
// key without a value is dropped.
func New(pairs ...string) Metadata {
	md := make(Metadata, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		md[pairs[i]] = pairs[i+1]
	}
	return md
}

// Clone returns an independent copy. Cloning nil yields an empty,
// writable map.
func (m Metadata) Clone() Metadata {
	return m.copyWithRoom(0)
}

// With returns a copy with one header added or replaced.
func (m Metadata) With(key, value string) Metadata {
	out := m.copyWithRoom(1)
	out[key] = value
	return out
}

// WithAll returns a copy merged with the given headers. Entries in the
// argument win on key collisions.
func (m Metadata) WithAll(entries Metadata) Metadata {
	out := m.copyWithRoom(len(entries))
	for k, v := range entries {
		out[k] = v
	}
	return out
}

func (m Metadata) copyWithRoom(extra int) Metadata {
	size := len(m) + extra
	if size <= 0 {
		return Metadata{}
	}
	out := make(Metadata, size)
	for k, v := range m {
		out[k] = v
	}
	return out
}
