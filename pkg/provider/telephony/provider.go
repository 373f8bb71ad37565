// Package telephony defines the Provider interface for outbound-call
// carriers.
//
// A telephony provider places calls through a carrier API (Twilio or Telnyx),
// hangs them up, authenticates carrier webhooks, and renders the call
// instruction document that tells the carrier to open a media stream back to
// this service. Both supported carriers consume the same TwiML-shaped
// instruction.
package telephony

import (
	"bytes"
	"context"
	"encoding/xml"
	"net/http"
)

// CallRequest describes an outbound call to place.
type CallRequest struct {
	// From is the provisioned caller number in E.164 form.
	From string

	// To is the callee number in E.164 form.
	To string

	// InstructionURL is the public URL the carrier fetches call instructions
	// from once the callee answers.
	InstructionURL string

	// StatusCallbackURL is the public URL the carrier posts call lifecycle
	// events to.
	StatusCallbackURL string
}

// Provider is the abstraction over any carrier API.
type Provider interface {
	// Name identifies the carrier (e.g. "twilio"). Used in logs and the
	// health endpoint.
	Name() string

	// PlaceCall initiates an outbound call and returns the carrier's call
	// reference (e.g. a Twilio CallSid).
	PlaceCall(ctx context.Context, req CallRequest) (string, error)

	// Hangup terminates an in-progress call by its carrier reference.
	Hangup(ctx context.Context, callRef string) error

	// VerifyWebhook reports whether an inbound carrier webhook is
	// authentically signed. body is the already-read request body; r still
	// carries the headers and URL the signature covers.
	VerifyWebhook(r *http.Request, body []byte) bool

	// CallInstruction renders the instruction document directing the carrier
	// to open a bidirectional media stream to mediaWSURL. It returns the
	// document's content type and body.
	CallInstruction(mediaWSURL string) (contentType string, body []byte)
}

// StreamInstruction renders the TwiML <Connect><Stream> document shared by
// Twilio and Telnyx TeXML.
func StreamInstruction(mediaWSURL string) []byte {
	var esc bytes.Buffer
	_ = xml.EscapeText(&esc, []byte(mediaWSURL))

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	buf.WriteString("<Response><Connect><Stream url=\"")
	buf.Write(esc.Bytes())
	buf.WriteString("\"/></Connect></Response>")
	return buf.Bytes()
}
