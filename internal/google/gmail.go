package google

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"
	"time"

	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// Message is one fetched mailbox item with its decoded text content.
type Message struct {
	ID      string
	Subject string
	Sender  string
	Date    string
	Text    string
}

// MailClient reads newsletter emails from a Gmail inbox.
type MailClient struct {
	service *gmail.Service
	logger  *slog.Logger
}

// NewMailClient creates an authenticated Gmail client. It loads the
// OAuth token saved by the auth command.
func NewMailClient(ctx context.Context, logger *slog.Logger, clientID, clientSecret string) (*MailClient, error) {
	config, err := getOAuthConfig(clientID, clientSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to get OAuth config: %w", err)
	}

	token, err := tokenFromFile(tokenFile)
	if err != nil {
		return nil, fmt.Errorf("could not load token: %w. Please run the 'auth' command first", err)
	}

	client := config.Client(ctx, token)
	service, err := gmail.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("failed to create gmail service: %w", err)
	}

	return &MailClient{service: service, logger: logger}, nil
}

// FetchMessages returns inbox messages from the last `days` days, each
// with subject, sender and decoded body text.
func (c *MailClient) FetchMessages(ctx context.Context, days int) ([]Message, error) {
	after := time.Now().AddDate(0, 0, -days).Format("2006/01/02")
	query := fmt.Sprintf("in:inbox after:%s", after)
	c.logger.Debug("Searching mailbox", "query", query)

	list, err := c.service.Users.Messages.List("me").Q(query).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	c.logger.Info("Found mailbox messages.", "count", len(list.Messages))

	var messages []Message
	for _, meta := range list.Messages {
		full, err := c.service.Users.Messages.Get("me", meta.Id).Format("full").Context(ctx).Do()
		if err != nil {
			return nil, fmt.Errorf("failed to fetch message %s: %w", meta.Id, err)
		}
		messages = append(messages, Message{
			ID:      full.Id,
			Subject: headerValue(full.Payload, "Subject", "(no subject)"),
			Sender:  headerValue(full.Payload, "From", ""),
			Date:    headerValue(full.Payload, "Date", ""),
			Text:    extractText(full.Payload),
		})
	}
	return messages, nil
}

func headerValue(payload *gmail.MessagePart, name, fallback string) string {
	if payload == nil {
		return fallback
	}
	for _, h := range payload.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return fallback
}

// extractText walks the MIME tree and returns the message body as plain
// text. HTML parts are preferred over text/plain parts because
// newsletters put the real content there; the HTML is stripped of
// script/style and anchor targets are inlined as "text (url)".
func extractText(payload *gmail.MessagePart) string {
	if payload == nil {
		return ""
	}

	var htmlParts, textParts []string
	var walk func(part *gmail.MessagePart)
	walk = func(part *gmail.MessagePart) {
		if part == nil {
			return
		}
		if len(part.Parts) > 0 {
			for _, p := range part.Parts {
				walk(p)
			}
			return
		}
		if part.Body == nil || part.Body.Data == "" {
			return
		}
		// Gmail omits base64 padding on some parts.
		data, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(part.Body.Data, "="))
		if err != nil {
			return
		}
		switch part.MimeType {
		case "text/html":
			htmlParts = append(htmlParts, string(data))
		case "text/plain":
			textParts = append(textParts, string(data))
		}
	}
	walk(payload)

	if len(htmlParts) > 0 {
		return HTMLToText(strings.Join(htmlParts, "\n"))
	}
	return strings.Join(textParts, "\n")
}
