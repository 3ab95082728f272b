// Package classify is the client for the external language-model classifier.
//
// The classifier is an opaque capability reached over an OpenAI-compatible
// chat-completions endpoint: text in, structured judgment out. Responses are
// validated against explicit schemas at this boundary — invalid shapes become
// ErrMalformed, never silently coerced. Transport failures, 429s, and 5xx
// become ErrUnavailable. Both are retryable by the caller; this package does
// not retry on its own.
package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"painradar/radar/internal/store"
)

// ErrMalformed reports a response that does not match the expected schema.
var ErrMalformed = errors.New("classify: malformed response")

// ErrUnavailable reports a transport-level failure (timeout, 429, 5xx).
var ErrUnavailable = errors.New("classify: backend unavailable")

// Config configures the classifier client.
type Config struct {
	// BaseURL of the OpenAI-compatible endpoint (without /v1/...).
	BaseURL string
	// APIKey sent as a bearer token. Optional for local backends.
	APIKey string
	// Model identifies the model; it is recorded as each signal's
	// model_version so re-extractions are distinguishable.
	Model string
	// Timeout per request. Default: 120s.
	Timeout time.Duration
	// MaxTokens for the completion. Default: 1024.
	MaxTokens int
}

func (c *Config) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 120 * time.Second
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 1024
	}
}

// Client calls the classifier backend.
type Client struct {
	http   *http.Client
	config Config
	logger *slog.Logger
}

// New creates a classifier client.
func New(cfg Config, logger *slog.Logger) *Client {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		http:   &http.Client{Timeout: cfg.Timeout},
		config: cfg,
		logger: logger,
	}
}

// ModelVersion identifies the model behind this client.
func (c *Client) ModelVersion() string { return c.config.Model }

// CandidateSignal is one signal proposed by the classifier.
type CandidateSignal struct {
	Type  store.SignalType `json:"signal_type"`
	Quote string           `json:"quote"`
}

// Extraction is the structured judgment for one content item.
type Extraction struct {
	State   store.ExtractionState `json:"extraction_state"`
	Reason  string                `json:"reason"`
	Signals []CandidateSignal     `json:"signals"`
}

// ClusterSummary is the generated title/summary for a cluster.
type ClusterSummary struct {
	Title   string `json:"title"`
	Summary string `json:"summary"`
}

const extractSystem = `You extract demand signals from social media discussions.
Given a post (and optionally its comments), respond with JSON:
{"extraction_state": "extracted" | "not_extractable" | "disqualified",
 "reason": "<why, when not extracted>",
 "signals": [{"signal_type": "pain" | "willingness_to_pay" | "alternatives" | "urgency" | "repetition" | "budget",
              "quote": "<EXACT verbatim quote copied from the input, max 25 words>"}]}
Mark self-promotion, ads, and off-topic content as not_extractable.
Quotes MUST be copied character-for-character from the input.`

const summarizeSystem = `You name groups of related complaint quotes.
Respond with JSON: {"title": "<max 8 words>", "summary": "<one sentence>"}.`

// ExtractSignals classifies one content item's text into candidate signals.
func (c *Client) ExtractSignals(ctx context.Context, text string) (*Extraction, error) {
	content, err := c.complete(ctx, extractSystem, text)
	if err != nil {
		return nil, err
	}

	var out Extraction
	if err := strictDecode(content, &out); err != nil {
		return nil, fmt.Errorf("%w: extraction: %v", ErrMalformed, err)
	}
	if !store.ValidExtractionState(out.State) {
		return nil, fmt.Errorf("%w: unknown extraction_state %q", ErrMalformed, out.State)
	}
	for _, sig := range out.Signals {
		if !store.ValidSignalType(sig.Type) {
			return nil, fmt.Errorf("%w: unknown signal_type %q", ErrMalformed, sig.Type)
		}
		if strings.TrimSpace(sig.Quote) == "" {
			return nil, fmt.Errorf("%w: empty quote", ErrMalformed)
		}
	}
	return &out, nil
}

// SummarizeCluster generates a title and summary from representative quotes.
func (c *Client) SummarizeCluster(ctx context.Context, quotes []string) (*ClusterSummary, error) {
	var b strings.Builder
	for i, q := range quotes {
		fmt.Fprintf(&b, "%d. %q\n", i+1, q)
	}
	content, err := c.complete(ctx, summarizeSystem, b.String())
	if err != nil {
		return nil, err
	}

	var out ClusterSummary
	if err := strictDecode(content, &out); err != nil {
		return nil, fmt.Errorf("%w: summary: %v", ErrMalformed, err)
	}
	if strings.TrimSpace(out.Title) == "" {
		return nil, fmt.Errorf("%w: empty title", ErrMalformed)
	}
	return &out, nil
}

// --- OpenAI-compatible wire types ---

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	MaxTokens      int           `json:"max_tokens"`
	Temperature    float32       `json:"temperature"`
	ResponseFormat *respFormat   `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type respFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// complete performs one chat-completions round trip and returns the raw
// message content.
func (c *Client) complete(ctx context.Context, system, user string) (string, error) {
	reqBody := chatRequest{
		Model: c.config.Model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		MaxTokens:      c.config.MaxTokens,
		Temperature:    0,
		ResponseFormat: &respFormat{Type: "json_object"},
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("classify: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.config.BaseURL+"/v1/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("classify: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return "", err
		}
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return "", fmt.Errorf("%w: http %d", ErrUnavailable, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: http %d", ErrMalformed, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("%w: read body: %v", ErrUnavailable, err)
	}

	var cr chatResponse
	if err := json.Unmarshal(body, &cr); err != nil {
		return "", fmt.Errorf("%w: envelope: %v", ErrMalformed, err)
	}
	if len(cr.Choices) == 0 || cr.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("%w: no choices", ErrMalformed)
	}
	return cr.Choices[0].Message.Content, nil
}

// strictDecode decodes JSON rejecting unknown fields and trailing data.
func strictDecode(content string, v any) error {
	dec := json.NewDecoder(strings.NewReader(content))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("trailing data")
	}
	return nil
}
