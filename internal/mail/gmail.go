// Package mail fetches schedule notification emails from Gmail.
package mail

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// user is the Gmail API alias for the authenticated account.
const user = "me"

// Message is one schedule notification.
type Message struct {
	ID       string
	Subject  string
	BodyHTML string
}

// Query selects the notification emails.
type Query struct {
	Sender       string
	Subject      string
	EarliestDate string // YYYY/MM/DD
}

// String renders the Gmail search expression.
func (q Query) String() string {
	var parts []string
	if q.Sender != "" {
		parts = append(parts, "from:"+q.Sender)
	}
	if q.Subject != "" {
		parts = append(parts, "subject:"+q.Subject)
	}
	if q.EarliestDate != "" {
		parts = append(parts, "after:"+q.EarliestDate)
	}
	return strings.Join(parts, " ")
}

// GmailClient lists and downloads notification emails.
type GmailClient struct {
	service *gmail.Service
	query   Query
}

// NewGmailClient creates a Gmail API client using the provided HTTP client.
func NewGmailClient(ctx context.Context, httpClient *http.Client, query Query, opts ...option.ClientOption) (*GmailClient, error) {
	opts = append([]option.ClientOption{option.WithHTTPClient(httpClient)}, opts...)
	service, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gmail service: %w", err)
	}

	return &GmailClient{service: service, query: query}, nil
}

// ListMessageIDs returns the IDs of every message matching the query, newest
// first as Gmail orders them. Only IDs are listed; bodies are downloaded per
// message with GetMessage.
func (c *GmailClient) ListMessageIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := c.service.Users.Messages.List(user).
		Q(c.query.String()).
		Pages(ctx, func(resp *gmail.ListMessagesResponse) error {
			for _, m := range resp.Messages {
				ids = append(ids, m.Id)
			}
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("Gmail: failed to list messages: %w", err)
	}

	log.WithField("query", c.query.String()).Debugf("Found %d matching messages", len(ids))
	return ids, nil
}

// GetMessage downloads one message and extracts its subject and body.
func (c *GmailClient) GetMessage(ctx context.Context, id string) (Message, error) {
	msg, err := c.service.Users.Messages.Get(user, id).Format("full").Context(ctx).Do()
	if err != nil {
		return Message{}, fmt.Errorf("Gmail: failed to get message %s: %w", id, err)
	}
	return Message{
		ID:       msg.Id,
		Subject:  header(msg.Payload, "Subject"),
		BodyHTML: body(msg.Payload),
	}, nil
}

func header(part *gmail.MessagePart, name string) string {
	if part == nil {
		return ""
	}
	for _, h := range part.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// body picks the first text/html part, then text/plain, then whatever the
// top-level part carries.
func body(payload *gmail.MessagePart) string {
	if payload == nil {
		return ""
	}
	if data, ok := findPart(payload, "text/html"); ok {
		return data
	}
	if data, ok := findPart(payload, "text/plain"); ok {
		return data
	}
	if payload.Body != nil {
		if data, err := decodeBody(payload.Body.Data); err == nil {
			return data
		}
	}
	return ""
}

func findPart(part *gmail.MessagePart, mimeType string) (string, bool) {
	if strings.EqualFold(part.MimeType, mimeType) && part.Body != nil && part.Body.Data != "" {
		data, err := decodeBody(part.Body.Data)
		if err != nil {
			log.Warnf("Warning: failed to decode %s part: %v", mimeType, err)
			return "", false
		}
		return data, true
	}
	for _, child := range part.Parts {
		if data, ok := findPart(child, mimeType); ok {
			return data, true
		}
	}
	return "", false
}

// decodeBody decodes Gmail's base64url body data, with or without padding.
func decodeBody(data string) (string, error) {
	decoded, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(data, "="))
	if err != nil {
		decoded, err = base64.URLEncoding.DecodeString(data)
		if err != nil {
			return "", err
		}
	}
	return string(decoded), nil
}
