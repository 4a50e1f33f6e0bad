// Package gemini backs ports.Classifier with the Gemini API.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aretw0/droidscout/pkg/ports"
	"google.golang.org/genai"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gemini-2.5-flash"

// ErrEmptyReply is returned when the model produced no text.
var ErrEmptyReply = errors.New("model returned no text")

type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Classifier sends every request as a single user turn. Temperature is pinned
// to zero so identical questions get stable answers.
type Classifier struct {
	models      generator
	model       string
	temperature float32
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithModel selects the model.
func WithModel(model string) Option {
	return func(c *Classifier) {
		if model != "" {
			c.model = model
		}
	}
}

// WithTemperature overrides the sampling temperature.
func WithTemperature(t float32) Option {
	return func(c *Classifier) {
		c.temperature = t
	}
}

// New creates a classifier using the Gemini API key.
func New(ctx context.Context, apiKey string, opts ...Option) (*Classifier, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is not set")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return newClassifier(client.Models, opts...), nil
}

func newClassifier(models generator, opts ...Option) *Classifier {
	c := &Classifier{models: models, model: DefaultModel}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Model returns the configured model name.
func (c *Classifier) Model() string {
	return c.model
}

// Classify implements ports.Classifier.
func (c *Classifier) Classify(ctx context.Context, req ports.Request) (ports.Response, error) {
	parts := make([]*genai.Part, 0, len(req.Parts))
	for _, p := range req.Parts {
		switch {
		case len(p.Image) > 0:
			parts = append(parts, genai.NewPartFromBytes(p.Image, "image/png"))
		case p.Text != "":
			parts = append(parts, genai.NewPartFromText(p.Text))
		}
	}
	if len(parts) == 0 {
		return ports.Response{}, fmt.Errorf("empty %s request", req.Task)
	}

	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
	resp, err := c.models.GenerateContent(ctx, c.model, contents, &genai.GenerateContentConfig{
		Temperature: genai.Ptr(c.temperature),
	})
	if err != nil {
		return ports.Response{}, fmt.Errorf("failed to generate %s reply: %w", req.Task, err)
	}

	out := ports.Response{Text: strings.TrimSpace(resp.Text())}
	if u := resp.UsageMetadata; u != nil {
		out.InputTokens = int(u.PromptTokenCount)
		out.OutputTokens = int(u.CandidatesTokenCount)
	}
	if out.Text == "" {
		return out, ErrEmptyReply
	}
	return out, nil
}
