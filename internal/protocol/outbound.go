package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// MIMEDescriptor identifies the outbound audio format on the wire.
const MIMEDescriptor = "audio/pcm;rate=16000"

// ── Outbound audio ────────────────────────────────────────────────────────────

type realtimeInputMessage struct {
	RealtimeInput realtimeInput `json:"realtimeInput"`
}

type realtimeInput struct {
	Audio audioChunk `json:"audio"`
}

type audioChunk struct {
	Data     string `json:"data"` // base64-encoded PCM
	MIMEType string `json:"mimeType"`
}

// EncodeAudio wraps one captured PCM frame in the realtime-input envelope.
func EncodeAudio(pcm []byte) ([]byte, error) {
	msg := realtimeInputMessage{
		RealtimeInput: realtimeInput{
			Audio: audioChunk{
				Data:     base64.StdEncoding.EncodeToString(pcm),
				MIMEType: MIMEDescriptor,
			},
		},
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode audio envelope: %w", err)
	}
	return data, nil
}

// ── Outbound control actions ──────────────────────────────────────────────────

type actionMessage struct {
	Action   string `json:"action"`
	Sound    string `json:"sound,omitempty"`
	Sequence uint16 `json:"sequence,omitempty"`
}

// EncodeRequestAmbient asks the backend to stream the named ambient sound,
// tagging its frames with the given sequence.
func EncodeRequestAmbient(sound string, seq uint16) ([]byte, error) {
	return encodeAction(actionMessage{Action: "requestAmbient", Sound: sound, Sequence: seq})
}

// EncodeStopAmbient asks the backend to stop the ambient stream.
func EncodeStopAmbient() ([]byte, error) {
	return encodeAction(actionMessage{Action: "stopAmbient"})
}

// EncodeRequestAlarm asks the backend to stream alarm audio.
func EncodeRequestAlarm() ([]byte, error) {
	return encodeAction(actionMessage{Action: "requestAlarm"})
}

// EncodeStopAlarm asks the backend to stop alarm audio.
func EncodeStopAlarm() ([]byte, error) {
	return encodeAction(actionMessage{Action: "stopAlarm"})
}

func encodeAction(msg actionMessage) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode action %q: %w", msg.Action, err)
	}
	return data, nil
}
