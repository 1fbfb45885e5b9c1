package extractor

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const validResult = `{
	"source_name": "Paradiso",
	"source_type": "newsletter",
	"events": [
		{
			"event_title": "Candlelight Concert",
			"event_type": "concert",
			"dates_iso": ["2026-01-19", "2026-01-20"],
			"description": "Two evenings of chamber music.",
			"url": "https://paradiso.nl/candlelight"
		}
	]
}`

func TestParseResult(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr error
		check   func(t *testing.T, r *Result)
	}{
		{
			name: "plain json",
			raw:  validResult,
			check: func(t *testing.T, r *Result) {
				if r.SourceName != "Paradiso" || len(r.Events) != 1 {
					t.Fatalf("unexpected result: %+v", r)
				}
				if len(r.Events[0].DatesISO) != 2 {
					t.Fatalf("expected 2 dates, got %v", r.Events[0].DatesISO)
				}
			},
		},
		{
			name: "fenced json",
			raw:  "```json\n" + validResult + "\n```",
			check: func(t *testing.T, r *Result) {
				if r.SourceName != "Paradiso" {
					t.Fatalf("fences not stripped: %+v", r)
				}
			},
		},
		{
			name: "fence without language tag",
			raw:  "```\n" + validResult + "\n```",
			check: func(t *testing.T, r *Result) {
				if len(r.Events) != 1 {
					t.Fatalf("fences not stripped: %+v", r)
				}
			},
		},
		{
			name: "empty events is a normal result",
			raw:  `{"source_name": "Unknown", "source_type": "newsletter", "events": []}`,
			check: func(t *testing.T, r *Result) {
				if len(r.Events) != 0 {
					t.Fatalf("expected zero events, got %d", len(r.Events))
				}
			},
		},
		{
			name:    "not json at all",
			raw:     "Sorry, I could not find any events in this email.",
			wantErr: ErrBadJSON,
		},
		{
			name:    "truncated json",
			raw:     `{"source_name": "Paradiso", "events": [`,
			wantErr: ErrBadJSON,
		},
		{
			name:    "contract violation",
			raw:     `{"source_name": "Paradiso", "source_type": "newsletter", "events": [{"event_type": "concert"}]}`,
			wantErr: ErrBadJSON,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := parseResult(tt.raw)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("parse failed: %v", err)
			}
			tt.check(t, r)
		})
	}
}

func TestStripFences(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"{}", "{}"},
		{"```json\n{}\n```", "{}"},
		{"```\n{}\n```", "{}"},
		{"  ```json\n{\"a\": 1}\n```  ", `{"a": 1}`},
		{"```{}", "{}"},
	}
	for _, tt := range tests {
		if got := stripFences(tt.raw); got != tt.want {
			t.Fatalf("stripFences(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func newTestClient(t *testing.T, serverURL string) *Client {
	t.Helper()
	c, err := NewClient(testLogger(), Options{
		APIKey:     "test-key",
		BaseURL:    serverURL,
		MaxRetries: 2,
		RetryDelay: time.Millisecond,
		Now:        func() time.Time { return time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func apiResponse(text string) string {
	b, _ := json.Marshal(map[string]any{
		"content": []map[string]string{{"type": "text", "text": text}},
	})
	return string(b)
}

func TestExtract(t *testing.T) {
	var gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "test-key" {
			t.Errorf("missing api key header")
		}
		data, _ := io.ReadAll(r.Body)
		gotBody = string(data)
		io.WriteString(w, apiResponse("```json\n"+validResult+"\n```"))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	result, err := c.Extract(context.Background(), "Paradiso Nieuwsbrief", "Candlelight, 19 en 20 jan")
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}
	if result.SourceName != "Paradiso" || len(result.Events) != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if !strings.Contains(gotBody, "Paradiso Nieuwsbrief") {
		t.Fatal("request does not contain the email subject")
	}
	if !strings.Contains(gotBody, "2026-02-01") {
		t.Fatal("request does not contain today's date for relative-date resolution")
	}
}

func TestExtractRetriesServerErrors(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		io.WriteString(w, apiResponse(validResult))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	if _, err := c.Extract(context.Background(), "s", "b"); err != nil {
		t.Fatalf("extract should succeed after retries: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestExtractBadRequestIsNotBadJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"error": {"type": "invalid_request_error", "message": "bad"}}`)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	_, err := c.Extract(context.Background(), "s", "b")
	if err == nil {
		t.Fatal("expected an error")
	}
	if errors.Is(err, ErrBadJSON) {
		t.Fatal("API failure must be distinguishable from contract JSON failure")
	}
}

func TestExtractMalformedModelOutputIsBadJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, apiResponse("not valid json"))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	_, err := c.Extract(context.Background(), "s", "b")
	if !errors.Is(err, ErrBadJSON) {
		t.Fatalf("expected ErrBadJSON, got %v", err)
	}
}

func TestNewClientRequiresAPIKey(t *testing.T) {
	if _, err := NewClient(testLogger(), Options{}); err == nil {
		t.Fatal("expected an error for a missing API key")
	}
}
