package media

import "encoding/json"

// Frame is a single JSON event on the carrier media WebSocket. The same
// envelope carries every event kind; unused fields stay empty.
type Frame struct {
	Event     string `json:"event"`
	StreamSid string `json:"streamSid,omitempty"`
	Start     *Start `json:"start,omitempty"`
	Media     *Media `json:"media,omitempty"`
	Mark      *Mark  `json:"mark,omitempty"`
}

// Event kinds on the media WebSocket. Carriers also send informational events
// (e.g. "connected") which sessions ignore.
const (
	EventStart = "start"
	EventMedia = "media"
	EventStop  = "stop"
	EventMark  = "mark"
)

// Start is the payload of the carrier's stream-start event. CallSid joins the
// stream to its call; StreamSid scopes all outbound frames.
type Start struct {
	StreamSid        string            `json:"streamSid"`
	CallSid          string            `json:"callSid"`
	CustomParameters map[string]string `json:"customParameters,omitempty"`
}

// Media carries one base64-encoded µ-law audio payload.
type Media struct {
	Payload string `json:"payload"`
}

// Mark is a loopback tag: the server emits it after outbound audio and the
// carrier echoes it once that audio has been played out.
type Mark struct {
	Name string `json:"name"`
}

// ParseFrame decodes a raw WebSocket message into a Frame.
func ParseFrame(data []byte) (Frame, error) {
	var f Frame
	err := json.Unmarshal(data, &f)
	return f, err
}

// Encode renders the frame as a JSON message.
func (f Frame) Encode() ([]byte, error) {
	return json.Marshal(f)
}
