package pipeline

import (
	"fmt"
	"strings"

	"github.com/openelr/relay/internal/envelope"
	"github.com/openelr/relay/internal/hl7"
)

// ItemValidationError marks a converted document rejected by its topic's
// item-level validator. Bad content never improves on retry.
type ItemValidationError struct {
	Validator envelope.ValidatorKind
	Missing   []string
}

func (e *ItemValidationError) Error() string {
	return fmt.Sprintf("pipeline: %s validation rejected document, missing %s",
		e.Validator, strings.Join(e.Missing, ", "))
}

// UnsupportedTopicError marks a sender routed onto a topic that does not
// ride the universal pipeline. This is a configuration condition, so it is
// terminal rather than retried.
type UnsupportedTopicError struct {
	Topic envelope.Topic
}

func (e *UnsupportedTopicError) Error() string {
	return fmt.Sprintf("pipeline: topic %q is not served by the universal pipeline", e.Topic)
}

// requiredByValidator lists the document paths each item-level validator
// demands beyond what the conversion schema already enforces.
var requiredByValidator = map[envelope.ValidatorKind][]string{
	envelope.ValidatorELR: {
		"patient.id",
		"patient.address.state",
		"order.testCode",
	},
	// Over-the-counter results are self reported, so no patient identifier
	// is demanded, but routing still needs the patient jurisdiction.
	envelope.ValidatorMARS: {
		"patient.address.state",
		"order.testCode",
	},
}

// validateItem applies the topic's item-level validator to the converted
// document.
func validateItem(topic envelope.Topic, doc *hl7.Document) error {
	validator := topic.Validator()
	var missing []string
	for _, path := range requiredByValidator[validator] {
		if doc.Get(path) == "" {
			missing = append(missing, path)
		}
	}
	if validator == envelope.ValidatorMARS {
		// Every over-the-counter result must name the performing device's
		// CLIA so the receiver can attribute the result.
		for i, obs := range doc.Items("observations") {
			if obs.Get("performer.id") == "" {
				missing = append(missing, fmt.Sprintf("observations[%d].performer.id", i))
			}
		}
	}
	if len(missing) > 0 {
		return &ItemValidationError{Validator: validator, Missing: missing}
	}
	return nil
}
