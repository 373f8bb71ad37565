// Package mock provides a scriptable in-memory telephony.Provider for tests.
package mock

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/MrWong99/trunkline/pkg/provider/telephony"
)

// Provider implements telephony.Provider without any carrier. Call
// references are generated sequentially ("CA-mock-1", "CA-mock-2", ...).
type Provider struct {
	mu sync.Mutex

	// PlaceErr, when set, fails every PlaceCall.
	PlaceErr error

	// HangupErr, when set, fails every Hangup.
	HangupErr error

	// RejectWebhooks makes VerifyWebhook return false.
	RejectWebhooks bool

	placed  []telephony.CallRequest
	hungUp  []string
	counter int
}

// NewProvider returns a mock Provider with no scripted failures.
func NewProvider() *Provider {
	return &Provider{}
}

// Name implements telephony.Provider.
func (p *Provider) Name() string { return "mock" }

// PlaceCall implements telephony.Provider, recording the request.
func (p *Provider) PlaceCall(ctx context.Context, req telephony.CallRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.PlaceErr != nil {
		return "", p.PlaceErr
	}
	p.counter++
	p.placed = append(p.placed, req)
	return fmt.Sprintf("CA-mock-%d", p.counter), nil
}

// Hangup implements telephony.Provider, recording the call reference.
func (p *Provider) Hangup(ctx context.Context, callRef string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.HangupErr != nil {
		return p.HangupErr
	}
	p.hungUp = append(p.hungUp, callRef)
	return nil
}

// VerifyWebhook implements telephony.Provider.
func (p *Provider) VerifyWebhook(r *http.Request, body []byte) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.RejectWebhooks
}

// CallInstruction implements telephony.Provider.
func (p *Provider) CallInstruction(mediaWSURL string) (string, []byte) {
	return "text/xml", telephony.StreamInstruction(mediaWSURL)
}

// Placed returns every recorded PlaceCall request.
func (p *Provider) Placed() []telephony.CallRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]telephony.CallRequest, len(p.placed))
	copy(out, p.placed)
	return out
}

// HungUp returns every call reference passed to Hangup.
func (p *Provider) HungUp() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.hungUp))
	copy(out, p.hungUp)
	return out
}
