// Package analysis asks an OpenAI-compatible chat completions endpoint for
// a carbon sequestration estimate of a project.
package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"mrv/config"
	"mrv/models"
)

// ErrDisabled is returned when no API key is configured or the guard has
// tripped after repeated failures.
var ErrDisabled = errors.New("analysis disabled")

const systemPrompt = "You are an AI assistant for carbon MRV."

type Analyzer interface {
	Analyze(ctx context.Context, p *models.Project, excerpts []Excerpt) (*models.Analysis, error)
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	Temperature float32   `json:"temperature"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message      message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
}

type Client struct {
	baseURL string
	apiKey  string
	model   string
	http    *http.Client
	guard   *Guard
	now     func() time.Time
}

func NewClient(cfg config.AIConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		http:    &http.Client{Timeout: timeout},
		guard:   NewGuard(3, time.Minute),
		now:     time.Now,
	}
}

func (c *Client) Enabled() bool {
	return c != nil && c.apiKey != "" && c.baseURL != ""
}

// Analyze sends the project's descriptive fields and any uploaded data
// excerpts and returns the parsed estimate. It performs network I/O and must not be called while holding a
// project lock.
func (c *Client) Analyze(ctx context.Context, p *models.Project, excerpts []Excerpt) (*models.Analysis, error) {
	if !c.Enabled() {
		return nil, ErrDisabled
	}
	if !c.guard.Allow() {
		return nil, fmt.Errorf("%w: backing off until %s", ErrDisabled, c.guard.DisabledUntil().Format(time.RFC3339))
	}

	content, err := c.chat(ctx, []message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: buildPrompt(p, excerpts)},
	})
	if err != nil {
		c.guard.RecordFailure()
		return nil, err
	}
	analysis, err := parseAnalysis(content)
	if err != nil {
		c.guard.RecordFailure()
		return nil, err
	}
	c.guard.RecordSuccess()

	analysis.Model = c.model
	analysis.GeneratedAt = c.now().UTC()
	return analysis, nil
}

func (c *Client) chat(ctx context.Context, messages []message) (string, error) {
	payload, err := json.Marshal(chatRequest{Model: c.model, Messages: messages, Temperature: 0.2})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(request)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("status %s", resp.Status)
	}

	var decoded chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return "", fmt.Errorf("response missing choices")
	}
	content := decoded.Choices[0].Message.Content
	if strings.TrimSpace(content) == "" {
		return "", fmt.Errorf("response empty")
	}
	return content, nil
}

func buildPrompt(p *models.Project, excerpts []Excerpt) string {
	var b strings.Builder
	b.WriteString("You are an expert in climate MRV systems.\n")
	b.WriteString("Analyze the following project data and give a carbon sequestration estimate.\n\n")
	b.WriteString("Metadata:\n")
	fmt.Fprintf(&b, "- name: %s\n", p.Name)
	fmt.Fprintf(&b, "- location: %s\n", p.Location)
	fmt.Fprintf(&b, "- coordinates: %s\n", p.Coordinates)
	fmt.Fprintf(&b, "- area_hectares: %g\n", p.Hectares)
	fmt.Fprintf(&b, "- species: %s\n", p.Species)
	if p.Description != "" {
		fmt.Fprintf(&b, "- description: %s\n", p.Description)
	}
	if len(p.Files) > 0 {
		names := make([]string, 0, len(p.Files))
		for _, f := range p.Files {
			names = append(names, f.Name)
		}
		fmt.Fprintf(&b, "- uploaded_files: %s\n", strings.Join(names, ", "))
	}
	b.WriteString("\nExtra Notes:\n")
	if p.Notes != "" {
		b.WriteString(p.Notes)
	} else {
		b.WriteString("none")
	}
	if len(excerpts) > 0 {
		b.WriteString("\n\nUploaded Data:\n")
		for _, e := range excerpts {
			fmt.Fprintf(&b, "--- %s ---\n%s\n", e.Name, strings.TrimRight(e.Text, "\n"))
			if e.Truncated {
				b.WriteString("[truncated]\n")
			}
		}
	}
	b.WriteString("\n\nRespond in valid JSON with keys:\n")
	b.WriteString("- carbon_estimate (tons of CO2 per year)\n")
	b.WriteString("- confidence (0-100)\n")
	b.WriteString("- analysis_notes\n")
	return b.String()
}

// parseAnalysis extracts the JSON object from a model reply, tolerating
// markdown fences and surrounding prose.
func parseAnalysis(content string) (*models.Analysis, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("reply contains no JSON object")
	}

	var raw struct {
		CarbonEstimate *float64 `json:"carbon_estimate"`
		Confidence     float64  `json:"confidence"`
		Notes          string   `json:"analysis_notes"`
	}
	if err := json.Unmarshal([]byte(content[start:end+1]), &raw); err != nil {
		return nil, fmt.Errorf("decode analysis: %w", err)
	}
	if raw.CarbonEstimate == nil {
		return nil, fmt.Errorf("analysis missing carbon_estimate")
	}
	if *raw.CarbonEstimate < 0 {
		return nil, fmt.Errorf("negative carbon_estimate %g", *raw.CarbonEstimate)
	}

	confidence := raw.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 100 {
		confidence = 100
	}
	return &models.Analysis{
		CarbonEstimate: *raw.CarbonEstimate,
		Confidence:     confidence,
		Notes:          strings.TrimSpace(raw.Notes),
	}, nil
}
