// Package telnyx provides a Telnyx-backed telephony provider using the TeXML
// REST API and Ed25519 webhook signatures. It implements the
// telephony.Provider interface.
package telnyx

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"

	"github.com/MrWong99/trunkline/pkg/provider/telephony"
	"github.com/go-resty/resty/v2"
)

const defaultBaseURL = "https://api.telnyx.com"

// Option is a functional option for configuring the Telnyx Provider.
type Option func(*Provider)

// WithBaseURL overrides the Telnyx API base URL. Useful for tests.
func WithBaseURL(baseURL string) Option {
	return func(p *Provider) {
		p.baseURL = baseURL
	}
}

// WithPublicKey sets the base64-encoded Ed25519 public key used to verify
// webhook signatures. Without a key, webhooks are accepted unverified.
func WithPublicKey(b64Key string) Option {
	return func(p *Provider) {
		p.publicKeyB64 = b64Key
	}
}

// Provider implements telephony.Provider backed by the Telnyx TeXML API.
type Provider struct {
	http         *resty.Client
	accountSid   string
	baseURL      string
	publicKeyB64 string
	publicKey    ed25519.PublicKey
}

// createCallResponse is the subset of the TeXML call creation response the
// provider consumes.
type createCallResponse struct {
	Sid    string `json:"sid"`
	Status string `json:"status"`
}

// New creates a new Telnyx Provider. apiKey is the bearer token and
// accountSid the TeXML account; both must be non-empty.
func New(apiKey, accountSid string, opts ...Option) (*Provider, error) {
	if apiKey == "" || accountSid == "" {
		return nil, errors.New("telnyx: apiKey and accountSid must not be empty")
	}
	p := &Provider{
		accountSid: accountSid,
		baseURL:    defaultBaseURL,
	}
	for _, o := range opts {
		o(p)
	}

	if p.publicKeyB64 != "" {
		key, err := base64.StdEncoding.DecodeString(p.publicKeyB64)
		if err != nil {
			return nil, fmt.Errorf("telnyx: decode public key: %w", err)
		}
		if len(key) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("telnyx: public key is %d bytes, want %d", len(key), ed25519.PublicKeySize)
		}
		p.publicKey = ed25519.PublicKey(key)
	}

	p.http = resty.New().
		SetBaseURL(p.baseURL).
		SetAuthToken(apiKey).
		SetHeader("Accept", "application/json")

	return p, nil
}

// Name implements telephony.Provider.
func (p *Provider) Name() string { return "telnyx" }

// PlaceCall initiates an outbound TeXML call and returns its call sid.
func (p *Provider) PlaceCall(ctx context.Context, req telephony.CallRequest) (string, error) {
	var out createCallResponse
	resp, err := p.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"From":           req.From,
			"To":             req.To,
			"Url":            req.InstructionURL,
			"StatusCallback": req.StatusCallbackURL,
		}).
		SetResult(&out).
		Post("/v2/texml/Accounts/" + p.accountSid + "/Calls")
	if err != nil {
		return "", fmt.Errorf("telnyx: create call: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("telnyx: create call: %s: %s", resp.Status(), resp.String())
	}
	if out.Sid == "" {
		return "", errors.New("telnyx: create call returned no sid")
	}
	return out.Sid, nil
}

// Hangup completes an in-progress call.
func (p *Provider) Hangup(ctx context.Context, callRef string) error {
	resp, err := p.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{"Status": "completed"}).
		Post("/v2/texml/Accounts/" + p.accountSid + "/Calls/" + callRef)
	if err != nil {
		return fmt.Errorf("telnyx: hangup %s: %w", callRef, err)
	}
	if resp.IsError() {
		return fmt.Errorf("telnyx: hangup %s: %s", callRef, resp.Status())
	}
	return nil
}

// VerifyWebhook checks the Ed25519 signature over "timestamp|body". With no
// public key configured, every webhook is accepted.
func (p *Provider) VerifyWebhook(r *http.Request, body []byte) bool {
	if p.publicKey == nil {
		return true
	}

	sigB64 := r.Header.Get("Telnyx-Signature-Ed25519")
	timestamp := r.Header.Get("Telnyx-Timestamp")
	if sigB64 == "" || timestamp == "" {
		return false
	}
	sig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		return false
	}

	message := make([]byte, 0, len(timestamp)+1+len(body))
	message = append(message, timestamp...)
	message = append(message, '|')
	message = append(message, body...)
	return ed25519.Verify(p.publicKey, message, sig)
}

// CallInstruction renders the TeXML directing Telnyx to open a media stream.
func (p *Provider) CallInstruction(mediaWSURL string) (string, []byte) {
	return "text/xml", telephony.StreamInstruction(mediaWSURL)
}
