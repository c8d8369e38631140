// Package pipeline implements the staged report flow: Receive, Convert,
// DestinationFilter, ReceiverFilter, Translate, Batch, Send. Each stage is a
// pure function over (envelope, blob, config); the Consumer orchestrates
// storage access, idempotency, lineage recording and retry classification
// around it.
package pipeline

import (
	"fmt"

	"github.com/openelr/relay/internal/envelope"
)

// Stage is one phase of the report pipeline.
type Stage string

const (
	StageReceive           Stage = "receive"
	StageConvert           Stage = "convert"
	StageDestinationFilter Stage = "destination-filter"
	StageReceiverFilter    Stage = "receiver-filter"
	StageTranslate         Stage = "translate"
	StageBatch             Stage = "batch"
	StageSend              Stage = "send"
)

// stageOrder fixes the forward sequence. A stage never emits an envelope for
// a stage at or before its own position; warning and error side states are
// the only exception.
var stageOrder = map[Stage]int{
	StageReceive:           0,
	StageConvert:           1,
	StageDestinationFilter: 2,
	StageReceiverFilter:    3,
	StageTranslate:         4,
	StageBatch:             5,
	StageSend:              6,
}

// Stages lists every stage in pipeline order.
func Stages() []Stage {
	return []Stage{
		StageReceive, StageConvert, StageDestinationFilter,
		StageReceiverFilter, StageTranslate, StageBatch, StageSend,
	}
}

// Valid reports whether s names a known stage.
func (s Stage) Valid() bool {
	_, ok := stageOrder[s]
	return ok
}

// Terminal reports whether the pipeline ends at this stage on success.
func (s Stage) Terminal() bool { return s == StageSend }

// Next returns the following stage, or "" after the terminal stage.
func (s Stage) Next() Stage {
	order, ok := stageOrder[s]
	if !ok || s == StageSend {
		return ""
	}
	for candidate, idx := range stageOrder {
		if idx == order+1 {
			return candidate
		}
	}
	return ""
}

// CanTransition reports whether an envelope may move from one stage to
// another. Forward movement only; equal or earlier stages are rejected so
// replays cannot loop.
func CanTransition(from, to Stage) bool {
	fromIdx, okFrom := stageOrder[from]
	toIdx, okTo := stageOrder[to]
	return okFrom && okTo && toIdx > fromIdx
}

// Action maps the stage onto its telemetry event action.
func (s Stage) Action() envelope.EventAction {
	switch s {
	case StageReceive:
		return envelope.ActionReceive
	case StageConvert:
		return envelope.ActionConvert
	case StageDestinationFilter:
		return envelope.ActionDestinationFilter
	case StageReceiverFilter:
		return envelope.ActionReceiverFilter
	case StageTranslate:
		return envelope.ActionTranslate
	case StageBatch:
		return envelope.ActionBatch
	case StageSend:
		return envelope.ActionSend
	default:
		return envelope.ActionNone
	}
}

// StageForKind resolves the stage that consumes a given envelope kind.
func StageForKind(k envelope.Kind) (Stage, error) {
	switch k {
	case envelope.KindReceive:
		return StageReceive, nil
	case envelope.KindConvert:
		return StageConvert, nil
	case envelope.KindDestinationFilter:
		return StageDestinationFilter, nil
	case envelope.KindReceiverFilter:
		return StageReceiverFilter, nil
	case envelope.KindTranslate:
		return StageTranslate, nil
	case envelope.KindBatch:
		return StageBatch, nil
	case envelope.KindReport, envelope.KindProcess:
		return StageSend, nil
	default:
		return "", fmt.Errorf("pipeline: no stage consumes envelope kind %q", k)
	}
}
