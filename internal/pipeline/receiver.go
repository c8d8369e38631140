package pipeline

import (
	"strings"
	"sync"

	"github.com/openelr/relay/internal/envelope"
	"github.com/openelr/relay/internal/hl7"
)

// CustomerStatus gates whether and how a receiver gets traffic.
type CustomerStatus string

const (
	StatusActive   CustomerStatus = "active"
	StatusInactive CustomerStatus = "inactive"
	// StatusTesting receivers get real traffic marked as test data, the
	// translator stamps the processing mode accordingly.
	StatusTesting CustomerStatus = "testing"
)

// Receiver is one downstream destination configuration.
type Receiver struct {
	Organization string
	Name         string
	Topic        envelope.Topic
	Status       CustomerStatus

	// Jurisdictions limits delivery to reports whose bundle digest carries
	// at least one of these values. Empty means no jurisdiction filter.
	Jurisdictions []string

	// SchemaName selects the translation schema for this receiver.
	SchemaName string

	// Truncation bounds outbound field lengths for this receiver's legacy
	// interface.
	Truncation hl7.TruncationConfig
}

// FullName is the "{organization}.{name}" identity envelopes carry.
func (r Receiver) FullName() string {
	return r.Organization + "." + r.Name
}

// WantsJurisdiction reports whether any of the digest's jurisdictions passes
// the receiver's filter.
func (r Receiver) WantsJurisdiction(dg hl7.BundleDigest) bool {
	if len(r.Jurisdictions) == 0 {
		return true
	}
	seen := make(map[string]bool, len(r.Jurisdictions))
	for _, j := range r.Jurisdictions {
		seen[strings.ToUpper(strings.TrimSpace(j))] = true
	}
	for _, group := range [][]string{
		dg.PatientJurisdictions,
		dg.PerformerJurisdictions,
		dg.OrderingFacilityJurisdictions,
	} {
		for _, j := range group {
			if seen[strings.ToUpper(j)] {
				return true
			}
		}
	}
	return false
}

// Registry holds the receiver configurations. Lookups happen on the filter
// stages; mutation happens only from configuration reloads.
type Registry struct {
	mu        sync.RWMutex
	receivers map[string]Receiver
}

func NewRegistry(receivers ...Receiver) *Registry {
	reg := &Registry{receivers: make(map[string]Receiver, len(receivers))}
	for _, r := range receivers {
		reg.receivers[r.FullName()] = r
	}
	return reg
}

// Upsert adds or replaces one receiver configuration.
func (reg *Registry) Upsert(r Receiver) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.receivers[r.FullName()] = r
}

// Lookup resolves a receiver by full name.
func (reg *Registry) Lookup(fullName string) (Receiver, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	r, ok := reg.receivers[fullName]
	return r, ok
}

// ForTopic lists every non-inactive receiver subscribed to the topic.
// Inactive receivers are filtered out here, on the fan-out, and re-checked
// per receiver on the receiver-filter stage in case status changed between
// stages.
func (reg *Registry) ForTopic(topic envelope.Topic) []Receiver {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	var out []Receiver
	for _, r := range reg.receivers {
		if r.Topic == topic && r.Status != StatusInactive {
			out = append(out, r)
		}
	}
	return out
}
