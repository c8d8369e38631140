package envelope

import "fmt"

// Topic classifies the data domain a report belongs to. The topic decides
// whether the report rides the universal pipeline, whether receivers get the
// untransformed original submission, and which item-level validator applies.
type Topic string

const (
	TopicFullELR   Topic = "full-elr"
	TopicEtorTI    Topic = "etor-ti"
	TopicELRElims  Topic = "elr-elims"
	TopicMarsOTC   Topic = "mars-otc-elr"
	TopicCovid19   Topic = "covid-19"
	TopicMonkeypox Topic = "monkeypox"
	TopicTest      Topic = "test"
)

var topics = map[Topic]topicTraits{
	TopicFullELR:   {universal: true, validator: ValidatorELR},
	TopicEtorTI:    {universal: true, sendOriginal: true, validator: ValidatorNone},
	TopicELRElims:  {universal: true, sendOriginal: true, validator: ValidatorNone},
	TopicMarsOTC:   {universal: true, validator: ValidatorMARS},
	TopicCovid19:   {validator: ValidatorNone},
	TopicMonkeypox: {validator: ValidatorNone},
	TopicTest:      {universal: true, validator: ValidatorNone},
}

type topicTraits struct {
	universal    bool
	sendOriginal bool
	validator    ValidatorKind
}

// ValidatorKind names the item-level validator a topic requires.
type ValidatorKind string

const (
	ValidatorNone ValidatorKind = "none"
	ValidatorELR  ValidatorKind = "elr"
	ValidatorMARS ValidatorKind = "mars"
)

// ParseTopic maps the wire representation back onto a Topic.
func ParseTopic(s string) (Topic, error) {
	t := Topic(s)
	if _, ok := topics[t]; !ok {
		return "", fmt.Errorf("unknown topic %q", s)
	}
	return t, nil
}

// IsUniversalPipeline reports whether reports of this topic ride the generic
// convert/route/translate pipeline.
func (t Topic) IsUniversalPipeline() bool { return topics[t].universal }

// SendOriginal reports whether receivers of this topic are handed the
// sender's untransformed submission instead of a translated rendition.
func (t Topic) SendOriginal() bool { return topics[t].sendOriginal }

// Validator returns the item-level validator kind for records of this topic.
func (t Topic) Validator() ValidatorKind {
	traits, ok := topics[t]
	if !ok {
		return ValidatorNone
	}
	return traits.validator
}
