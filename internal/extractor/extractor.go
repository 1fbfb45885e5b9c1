// Package extractor turns newsletter text into structured events by
// calling an LLM extraction API with a fixed JSON output contract.
package extractor

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
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"culturesync/internal/models"
)

const (
	defaultBaseURL = "https://api.anthropic.com"
	defaultModel   = "claude-haiku-4-5-20251001"
	apiVersion     = "2023-06-01"

	// Email bodies are truncated to this many characters before being
	// sent, to bound token cost on long newsletters.
	maxBodyChars = 30000
)

// ErrBadJSON marks a response the API returned but that could not be
// decoded or did not match the output contract. Callers report it
// separately from transport errors; in both cases the item must not be
// marked processed.
var ErrBadJSON = errors.New("extraction response is not valid contract JSON")

const promptTemplate = `You are an event extraction assistant. Given the text of a newsletter email from an Amsterdam cultural venue, extract all events mentioned.

Return ONLY valid JSON (no markdown fences) in this exact format:
{
  "source_name": "Name of the venue or newsletter sender",
  "source_type": "newsletter",
  "events": [
    {
      "event_title": "Name of the event / performer",
      "event_type": "concert | cabaret | debate | lecture | film | theater | other",
      "dates_iso": ["2026-01-19", "2026-01-20"],
      "description": "Short description of the event (1-2 sentences)",
      "url": "URL for tickets or event page, if available (otherwise null)"
    }
  ]
}

Rules:
- dates_iso must be ISO 8601 date strings (YYYY-MM-DD). Resolve relative dates using today's date which is %s.
- If a date range is given (e.g. "19 t/m 22 jan"), list each individual date.
- If no year is stated, assume the upcoming occurrence of that date.
- If you cannot determine any events, return {"source_name": "Unknown", "source_type": "newsletter", "events": []}.`

// resultSchema validates the oracle's output before it is trusted.
const resultSchema = `{
  "type": "object",
  "required": ["source_name", "source_type", "events"],
  "properties": {
    "source_name": {"type": "string"},
    "source_type": {"type": "string"},
    "events": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["event_title"],
        "properties": {
          "event_title": {"type": "string"},
          "event_type": {"type": ["string", "null"]},
          "dates_iso": {"type": ["array", "null"], "items": {"type": "string"}},
          "description": {"type": ["string", "null"]},
          "url": {"type": ["string", "null"]}
        }
      }
    }
  }
}`

// Result is the oracle's parsed output for one email.
type Result struct {
	SourceName string  `json:"source_name"`
	SourceType string  `json:"source_type"`
	Events     []Event `json:"events"`
}

// Event is one extracted event as reported by the oracle.
type Event struct {
	Title       string   `json:"event_title"`
	Type        string   `json:"event_type"`
	DatesISO    []string `json:"dates_iso"`
	Description string   `json:"description"`
	URL         string   `json:"url"`
}

// Options configures the Client. Zero values get sensible defaults.
type Options struct {
	APIKey     string
	BaseURL    string
	Model      string
	HTTPClient *http.Client
	MaxRetries int
	RetryDelay time.Duration
	Now        func() time.Time
}

// Client calls the extraction API.
type Client struct {
	logger     *slog.Logger
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	maxRetries int
	retryDelay time.Duration
	now        func() time.Time
}

// NewClient creates an extraction client. The API key is required: a
// missing key must abort the run before any side effect.
func NewClient(logger *slog.Logger, opts Options) (*Client, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY is not set")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	model := opts.Model
	if model == "" {
		model = defaultModel
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	retryDelay := opts.RetryDelay
	if retryDelay <= 0 {
		retryDelay = 2 * time.Second
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	if _, err := compiledSchema(); err != nil {
		return nil, fmt.Errorf("failed to compile result schema: %w", err)
	}

	return &Client{
		logger:     logger,
		apiKey:     opts.APIKey,
		baseURL:    baseURL,
		model:      model,
		httpClient: httpClient,
		maxRetries: maxRetries,
		retryDelay: retryDelay,
		now:        now,
	}, nil
}

// compiledSchema compiles the output contract once per process.
var compiledSchema = sync.OnceValues(compileSchema)

func compileSchema() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(resultSchema))
	if err != nil {
		return nil, err
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("extraction-result.json", doc); err != nil {
		return nil, err
	}
	return compiler.Compile("extraction-result.json")
}

// Extract sends one email's subject and body text to the API and
// returns the parsed, validated result. An empty events list is a
// normal result, not an error.
func (c *Client) Extract(ctx context.Context, subject, body string) (*Result, error) {
	if len(body) > maxBodyChars {
		body = body[:maxBodyChars]
	}
	today := c.now().Format("2006-01-02")
	prompt := fmt.Sprintf("Email subject: %s\n\nEmail body:\n%s\n\n%s",
		subject, body, fmt.Sprintf(promptTemplate, today))

	raw, err := c.complete(ctx, prompt)
	if err != nil {
		return nil, err
	}
	return parseResult(raw)
}

type messagesRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	Messages  []message `json:"messages"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// complete performs the messages call with bounded retries on 429 and
// server errors.
func (c *Client) complete(ctx context.Context, prompt string) (string, error) {
	payload, err := json.Marshal(messagesRequest{
		Model:     c.model,
		MaxTokens: 4096,
		Messages:  []message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(c.retryDelay):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.baseURL+"/v1/messages", bytes.NewReader(payload))
		if err != nil {
			return "", err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("x-api-key", c.apiKey)
		req.Header.Set("anthropic-version", apiVersion)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		data, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("extraction API returned status %d", resp.StatusCode)
			c.logger.Warn("Extraction API request failed, retrying.", "status", resp.StatusCode, "attempt", attempt+1)
			continue
		}
		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("extraction API returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
		}

		var mr messagesResponse
		if err := json.Unmarshal(data, &mr); err != nil {
			return "", fmt.Errorf("failed to decode API response: %w", err)
		}
		if mr.Error != nil {
			return "", fmt.Errorf("extraction API error %s: %s", mr.Error.Type, mr.Error.Message)
		}
		if len(mr.Content) == 0 {
			return "", fmt.Errorf("extraction API returned empty content")
		}
		return mr.Content[0].Text, nil
	}
	return "", fmt.Errorf("extraction API unavailable after %d attempts: %w", c.maxRetries+1, lastErr)
}

// parseResult strips any markdown code fence, decodes the JSON and
// validates it against the output contract.
func parseResult(raw string) (*Result, error) {
	raw = stripFences(raw)

	value, err := jsonschema.UnmarshalJSON(strings.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadJSON, err)
	}

	result := &Result{}
	if err := json.Unmarshal([]byte(raw), result); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadJSON, err)
	}
	if result.SourceName == "" {
		result.SourceName = "Unknown"
	}
	if result.SourceType == "" {
		result.SourceType = models.SourceTypeNewsletter
	}

	schema, err := compiledSchema()
	if err != nil {
		return nil, err
	}
	if err := schema.Validate(value); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadJSON, err)
	}
	return result, nil
}

// stripFences removes a wrapping markdown code block, with or without a
// language tag, if the model added one despite the instructions.
func stripFences(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		if idx := strings.IndexByte(raw, '\n'); idx >= 0 {
			raw = raw[idx+1:]
		} else {
			raw = raw[3:]
		}
	}
	raw = strings.TrimSpace(raw)
	raw = strings.TrimSuffix(raw, "```")
	return strings.TrimSpace(raw)
}
