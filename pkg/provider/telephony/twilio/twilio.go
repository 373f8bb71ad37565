// Package twilio provides a Twilio-backed telephony provider using the Twilio
// REST API and request signing. It implements the telephony.Provider
// interface.
package twilio

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/MrWong99/trunkline/pkg/provider/telephony"
	"github.com/twilio/twilio-go"
	"github.com/twilio/twilio-go/client"
	twilioapi "github.com/twilio/twilio-go/rest/api/v2010"
)

// Option is a functional option for configuring the Twilio Provider.
type Option func(*Provider)

// WithPublicURL sets the externally visible base URL of this service. Twilio
// signs webhooks over the full public URL, so signature verification needs it
// when the service sits behind a proxy.
func WithPublicURL(publicURL string) Option {
	return func(p *Provider) {
		p.publicURL = publicURL
	}
}

// Provider implements telephony.Provider backed by the Twilio API.
type Provider struct {
	client    *twilio.RestClient
	validator client.RequestValidator
	publicURL string
}

// New creates a new Twilio Provider. accountSid and authToken must be
// non-empty.
func New(accountSid, authToken string, opts ...Option) (*Provider, error) {
	if accountSid == "" || authToken == "" {
		return nil, errors.New("twilio: accountSid and authToken must not be empty")
	}
	p := &Provider{
		client: twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: accountSid,
			Password: authToken,
		}),
		validator: client.NewRequestValidator(authToken),
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Name implements telephony.Provider.
func (p *Provider) Name() string { return "twilio" }

// PlaceCall initiates an outbound call and returns its CallSid.
func (p *Provider) PlaceCall(ctx context.Context, req telephony.CallRequest) (string, error) {
	params := &twilioapi.CreateCallParams{}
	params.SetFrom(req.From)
	params.SetTo(req.To)
	params.SetUrl(req.InstructionURL)
	params.SetStatusCallback(req.StatusCallbackURL)
	params.SetStatusCallbackEvent([]string{"initiated", "ringing", "answered", "completed"})

	resp, err := p.client.Api.CreateCall(params)
	if err != nil {
		return "", fmt.Errorf("twilio: create call: %w", err)
	}
	if resp.Sid == nil || *resp.Sid == "" {
		return "", errors.New("twilio: create call returned no sid")
	}
	return *resp.Sid, nil
}

// Hangup completes an in-progress call.
func (p *Provider) Hangup(ctx context.Context, callRef string) error {
	params := &twilioapi.UpdateCallParams{}
	params.SetStatus("completed")
	if _, err := p.client.Api.UpdateCall(callRef, params); err != nil {
		return fmt.Errorf("twilio: hangup %s: %w", callRef, err)
	}
	return nil
}

// VerifyWebhook checks the X-Twilio-Signature header against the request URL
// and form parameters.
func (p *Provider) VerifyWebhook(r *http.Request, body []byte) bool {
	signature := r.Header.Get("X-Twilio-Signature")
	if signature == "" {
		return false
	}

	fullURL := p.publicURL + r.URL.RequestURI()
	if p.publicURL == "" {
		scheme := "https"
		if r.TLS == nil {
			scheme = "http"
		}
		fullURL = scheme + "://" + r.Host + r.URL.RequestURI()
	}

	form, err := url.ParseQuery(string(body))
	if err != nil {
		return false
	}
	params := make(map[string]string, len(form))
	for k := range form {
		params[k] = form.Get(k)
	}
	return p.validator.Validate(fullURL, params, signature)
}

// CallInstruction renders the TwiML directing Twilio to open a media stream.
func (p *Provider) CallInstruction(mediaWSURL string) (string, []byte) {
	return "text/xml", telephony.StreamInstruction(mediaWSURL)
}
