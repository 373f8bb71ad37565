// Package openai provides a TTS provider backed by the OpenAI speech API (or
// any API-compatible endpoint such as Lemonfox). It implements the
// tts.Provider interface.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/MrWong99/trunkline/pkg/audio"
	"github.com/MrWong99/trunkline/pkg/provider/tts"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const (
	defaultModel = "tts-1"
	defaultVoice = "alloy"

	// pcmSampleRate is the rate of the API's raw "pcm" response format.
	pcmSampleRate = 24000
)

// Option is a functional option for configuring the OpenAI Provider.
type Option func(*Provider)

// WithModel sets the speech model (e.g., "tts-1", "tts-1-hd", "gpt-4o-mini-tts").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithVoice sets the synthesis voice (e.g., "alloy", "nova").
func WithVoice(voice string) Option {
	return func(p *Provider) {
		p.voice = voice
	}
}

// WithBaseURL points the provider at an OpenAI-compatible endpoint.
func WithBaseURL(baseURL string) Option {
	return func(p *Provider) {
		p.baseURL = baseURL
	}
}

// WithSampleRate declares the rate of the endpoint's raw PCM responses, for
// compatible endpoints that do not emit 24 kHz. A WAV response header still
// wins over this hint.
func WithSampleRate(rate int) Option {
	return func(p *Provider) {
		if rate > 0 {
			p.sampleRate = rate
		}
	}
}

// Provider implements tts.Provider backed by the OpenAI speech endpoint.
type Provider struct {
	client     openai.Client
	model      string
	voice      string
	baseURL    string
	sampleRate int

	// wantWAV is set for endpoints that cannot produce raw PCM and return a
	// WAV container instead.
	wantWAV bool
}

// New creates a new OpenAI speech Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai: apiKey must not be empty")
	}
	p := &Provider{
		model:      defaultModel,
		voice:      defaultVoice,
		sampleRate: pcmSampleRate,
	}
	for _, o := range opts {
		o(p)
	}

	clientOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if p.baseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(p.baseURL))
	}
	// Lemonfox speaks the OpenAI API but only ships container formats.
	p.wantWAV = strings.Contains(strings.ToLower(p.baseURL), "lemonfox")
	p.client = openai.NewClient(clientOpts...)

	return p, nil
}

// Name implements tts.Provider.
func (p *Provider) Name() string { return "openai" }

// SampleRate implements tts.Provider.
func (p *Provider) SampleRate() int { return p.sampleRate }

// Synthesize renders text via the speech endpoint and returns mono 16-bit PCM.
func (p *Provider) Synthesize(ctx context.Context, text string) (tts.Result, error) {
	format := openai.AudioSpeechNewParamsResponseFormatPCM
	if p.wantWAV {
		format = openai.AudioSpeechNewParamsResponseFormatWAV
	}

	resp, err := p.client.Audio.Speech.New(ctx, openai.AudioSpeechNewParams{
		Model:          openai.SpeechModel(p.model),
		Input:          text,
		Voice:          openai.AudioSpeechNewParamsVoice(p.voice),
		ResponseFormat: format,
	})
	if err != nil {
		return tts.Result{}, fmt.Errorf("openai: speech request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return tts.Result{}, fmt.Errorf("openai: read speech response: %w", err)
	}

	// Some compatible endpoints return WAV regardless of the requested
	// format, so sniff the header instead of trusting the request.
	if audio.IsWAV(data) {
		pcm, info, err := audio.ParseWAV(data)
		if err != nil {
			return tts.Result{}, fmt.Errorf("openai: parse wav response: %w", err)
		}
		return tts.Result{PCM: pcm, SampleRate: info.SampleRate}, nil
	}

	return tts.Result{PCM: data, SampleRate: p.sampleRate}, nil
}

// streamChunkSize is one read off the speech response body, roughly 170 ms of
// 24 kHz 16-bit PCM.
const streamChunkSize = 8192

// SynthesizeStream renders text as a lazy chunk sequence read straight off
// the HTTP response body. Endpoints that only ship WAV containers are
// synthesized in full and replayed from memory, since the header cannot be
// parsed until the body is complete.
func (p *Provider) SynthesizeStream(ctx context.Context, text string) (tts.Stream, error) {
	if p.wantWAV {
		res, err := p.Synthesize(ctx, text)
		if err != nil {
			return nil, err
		}
		return tts.BufferStream(res.PCM, res.SampleRate, streamChunkSize), nil
	}

	resp, err := p.client.Audio.Speech.New(ctx, openai.AudioSpeechNewParams{
		Model:          openai.SpeechModel(p.model),
		Input:          text,
		Voice:          openai.AudioSpeechNewParamsVoice(p.voice),
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormatPCM,
	})
	if err != nil {
		return nil, fmt.Errorf("openai: speech request: %w", err)
	}
	return &bodyStream{body: resp.Body, rate: p.sampleRate}, nil
}

// bodyStream yields PCM chunks directly from the speech response body.
type bodyStream struct {
	body io.ReadCloser
	rate int
}

func (s *bodyStream) Next() ([]byte, error) {
	buf := make([]byte, streamChunkSize)
	n, err := io.ReadFull(s.body, buf)
	if n > 0 {
		return buf[:n], nil
	}
	if err == io.ErrUnexpectedEOF {
		err = io.EOF
	}
	return nil, err
}

func (s *bodyStream) SampleRate() int { return s.rate }

func (s *bodyStream) Close() error { return s.body.Close() }
