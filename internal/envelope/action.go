package envelope

import "fmt"

// EventAction labels a pipeline phase. Actions are recorded on telemetry
// events and drive the retry-versus-terminal classification: a *_warning
// action marks a retryable failure, a *_error action marks a terminal one.
type EventAction string

const (
	ActionReceive           EventAction = "receive"
	ActionConvert           EventAction = "convert"
	ActionConvertWarning    EventAction = "convert_warning"
	ActionConvertError      EventAction = "convert_error"
	ActionProcess           EventAction = "process"
	ActionProcessWarning    EventAction = "process_warning"
	ActionProcessError      EventAction = "process_error"
	ActionDestinationFilter EventAction = "destination-filter"
	ActionDestFilterWarning EventAction = "destination-filter_warning"
	ActionDestFilterError   EventAction = "destination-filter_error"
	ActionReceiverFilter    EventAction = "receiver-filter"
	ActionRecvFilterWarning EventAction = "receiver-filter_warning"
	ActionRecvFilterError   EventAction = "receiver-filter_error"
	ActionTranslate         EventAction = "translate"
	ActionTranslateWarning  EventAction = "translate_warning"
	ActionTranslateError    EventAction = "translate_error"
	ActionBatch             EventAction = "batch"
	ActionBatchWarning      EventAction = "batch_warning"
	ActionBatchError        EventAction = "batch_error"
	ActionSend              EventAction = "send"
	ActionSendWarning       EventAction = "send_warning"
	ActionSendError         EventAction = "send_error"
	ActionResend            EventAction = "resend"
	ActionRebatch           EventAction = "rebatch"
	ActionNone              EventAction = "none"
)

var allActions = []EventAction{
	ActionReceive,
	ActionConvert, ActionConvertWarning, ActionConvertError,
	ActionProcess, ActionProcessWarning, ActionProcessError,
	ActionDestinationFilter, ActionDestFilterWarning, ActionDestFilterError,
	ActionReceiverFilter, ActionRecvFilterWarning, ActionRecvFilterError,
	ActionTranslate, ActionTranslateWarning, ActionTranslateError,
	ActionBatch, ActionBatchWarning, ActionBatchError,
	ActionSend, ActionSendWarning, ActionSendError,
	ActionResend, ActionRebatch, ActionNone,
}

// ParseEventAction maps the wire representation back onto an EventAction.
func ParseEventAction(s string) (EventAction, error) {
	for _, a := range allActions {
		if string(a) == s {
			return a, nil
		}
	}
	return ActionNone, fmt.Errorf("unknown event action %q", s)
}

// QueueName returns the physical queue fed by this action. Warning, error and
// administrative actions are fan-in only and return the empty string.
func (a EventAction) QueueName() string {
	switch a {
	case ActionReceive, ActionConvert, ActionProcess, ActionDestinationFilter,
		ActionReceiverFilter, ActionTranslate, ActionBatch, ActionSend:
		return string(a)
	default:
		return ""
	}
}

// Warning returns the retryable-failure counterpart of a stage action, or
// ActionNone when the action has no warning form.
func (a EventAction) Warning() EventAction {
	switch a {
	case ActionConvert:
		return ActionConvertWarning
	case ActionProcess:
		return ActionProcessWarning
	case ActionDestinationFilter:
		return ActionDestFilterWarning
	case ActionReceiverFilter:
		return ActionRecvFilterWarning
	case ActionTranslate:
		return ActionTranslateWarning
	case ActionBatch:
		return ActionBatchWarning
	case ActionSend:
		return ActionSendWarning
	default:
		return ActionNone
	}
}

// Error returns the terminal-failure counterpart of a stage action, or
// ActionNone when the action has no error form.
func (a EventAction) Error() EventAction {
	switch a {
	case ActionConvert:
		return ActionConvertError
	case ActionProcess:
		return ActionProcessError
	case ActionDestinationFilter:
		return ActionDestFilterError
	case ActionReceiverFilter:
		return ActionRecvFilterError
	case ActionTranslate:
		return ActionTranslateError
	case ActionBatch:
		return ActionBatchError
	case ActionSend:
		return ActionSendError
	default:
		return ActionNone
	}
}

// IsTerminal reports whether the action ends the pipeline for a report.
func (a EventAction) IsTerminal() bool {
	switch a {
	case ActionConvertError, ActionProcessError, ActionDestFilterError,
		ActionRecvFilterError, ActionTranslateError, ActionBatchError,
		ActionSendError, ActionNone:
		return true
	default:
		return false
	}
}
