package arbiter

import "time"

// EventKind discriminates arbiter input events.
type EventKind int

const (
	// EventPressShort is a debounced short button press.
	EventPressShort EventKind = iota

	// EventPressLong is a debounced long button press (≥ the configured hold).
	EventPressLong

	// EventVoice reports a voiced capture frame. Amplitude carries the
	// frame's mean absolute level.
	EventVoice

	// EventForegroundAudio reports an admitted foreground response frame.
	EventForegroundAudio

	// EventTurnComplete is the peer's turn-completion document.
	EventTurnComplete

	// EventAmbientComplete is the peer's ambient stream-completion document.
	EventAmbientComplete

	// EventAlarmFire preempts the current activity with an alarm.
	EventAlarmFire

	// EventAlarmDismiss ends the alarm and restores the preempted activity.
	EventAlarmDismiss
)

// String returns the event kind name.
func (k EventKind) String() string {
	switch k {
	case EventPressShort:
		return "press_short"
	case EventPressLong:
		return "press_long"
	case EventVoice:
		return "voice"
	case EventForegroundAudio:
		return "foreground_audio"
	case EventTurnComplete:
		return "turn_complete"
	case EventAmbientComplete:
		return "ambient_complete"
	case EventAlarmFire:
		return "alarm_fire"
	case EventAlarmDismiss:
		return "alarm_dismiss"
	default:
		return "unknown"
	}
}

// Event is one arbiter input.
type Event struct {
	Kind      EventKind
	Amplitude float64
	At        time.Time
}
