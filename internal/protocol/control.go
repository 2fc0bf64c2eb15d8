package protocol

import (
	"encoding/json"
	"fmt"
)

// ControlType discriminates inbound control documents.
type ControlType string

// Control document types understood by the device. Feature payloads
// (tide/timer/alarm/moon/pomodoro) are handed to the display collaborators as
// opaque records; they do not affect arbitration except by flipping
// background-activity flags.
const (
	TypeReady           ControlType = "ready"
	TypeSetupComplete   ControlType = "setupComplete"
	TypeTurnComplete    ControlType = "turnComplete"
	TypeFunctionCall    ControlType = "functionCall"
	TypeAmbientComplete ControlType = "ambientComplete"
	TypeText            ControlType = "text"

	TypeTideData       ControlType = "tideData"
	TypeTimerSet       ControlType = "timerSet"
	TypeSetAlarm       ControlType = "setAlarm"
	TypeTimerCancelled ControlType = "timerCancelled"
	TypeTimerExpired   ControlType = "timerExpired"
	TypeCancelAlarm    ControlType = "cancelAlarm"
	TypeListAlarms     ControlType = "listAlarms"
	TypeMoonData       ControlType = "moonData"

	TypePomodoroStart         ControlType = "pomodoroStart"
	TypePomodoroPause         ControlType = "pomodoroPause"
	TypePomodoroResume        ControlType = "pomodoroResume"
	TypePomodoroStop          ControlType = "pomodoroStop"
	TypePomodoroSkip          ControlType = "pomodoroSkip"
	TypePomodoroStatusRequest ControlType = "pomodoroStatusRequest"

	// TypeError is synthesised for documents carrying an "error" field
	// instead of a "type" field.
	TypeError ControlType = "error"
)

// featureTypes lists the control types carrying opaque feature payloads.
var featureTypes = map[ControlType]bool{
	TypeTideData:              true,
	TypeTimerSet:              true,
	TypeSetAlarm:              true,
	TypeTimerCancelled:        true,
	TypeTimerExpired:          true,
	TypeCancelAlarm:           true,
	TypeListAlarms:            true,
	TypeMoonData:              true,
	TypePomodoroStart:         true,
	TypePomodoroPause:         true,
	TypePomodoroResume:        true,
	TypePomodoroStop:          true,
	TypePomodoroSkip:          true,
	TypePomodoroStatusRequest: true,
}

// Control is a decoded inbound control document.
type Control struct {
	// Type discriminates the document.
	Type ControlType

	// Function is set for TypeFunctionCall.
	Function *FunctionCall

	// Text is set for TypeText.
	Text string

	// ErrorMessage is set for TypeError.
	ErrorMessage string

	// Payload is the raw document, preserved for feature types so display
	// collaborators can interpret their own records.
	Payload json.RawMessage
}

// IsFeature reports whether the document carries an opaque feature payload.
func (c Control) IsFeature() bool { return featureTypes[c.Type] }

// FunctionCall is an inbound tool invocation. The only call the device
// currently honours is volume adjustment.
type FunctionCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// controlDoc is the superset wire shape of inbound text documents.
type controlDoc struct {
	Type     ControlType   `json:"type"`
	Error    string        `json:"error"`
	Function *FunctionCall `json:"functionCall"`
	Text     string        `json:"text"`
}

// ErrUnknownControl is returned by [ParseControl] for documents whose type is
// not recognised. Callers discard such documents with a log entry; an unknown
// type never crashes the session.
type ErrUnknownControl struct {
	Type ControlType
}

func (e ErrUnknownControl) Error() string {
	return fmt.Sprintf("protocol: unknown control type %q", e.Type)
}

// ParseControl decodes one inbound text document.
func ParseControl(data []byte) (Control, error) {
	var doc controlDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return Control{}, fmt.Errorf("protocol: decode control document: %w", err)
	}

	if doc.Error != "" {
		return Control{Type: TypeError, ErrorMessage: doc.Error}, nil
	}

	c := Control{Type: doc.Type, Payload: json.RawMessage(data)}
	switch doc.Type {
	case TypeReady, TypeSetupComplete, TypeTurnComplete, TypeAmbientComplete:
		return c, nil
	case TypeFunctionCall:
		if doc.Function == nil {
			return Control{}, fmt.Errorf("protocol: functionCall document missing functionCall body")
		}
		c.Function = doc.Function
		return c, nil
	case TypeText:
		c.Text = doc.Text
		return c, nil
	}
	if featureTypes[doc.Type] {
		return c, nil
	}
	return Control{}, ErrUnknownControl{Type: doc.Type}
}
