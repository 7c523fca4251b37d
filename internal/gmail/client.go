package gmail

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
)

// ErrNotFound is returned when the mailbox has no match for an identifier
var ErrNotFound = errors.New("identifier not found in mailbox")

const messageIDHeader = "Message-ID"

// Client wraps the gmail.Service and answers identifier lookups against it
type Client struct {
	Service *gmail.Service
	user    string
}

// NewClient creates a new Gmail client for the authenticated user
func NewClient(service *gmail.Service) *Client {
	return &Client{Service: service, user: "me"}
}

func (c *Client) ready() error {
	if c == nil || c.Service == nil {
		return fmt.Errorf("gmail client not initialized")
	}
	return nil
}

// ResolveLegacyToMessage returns the RFC822 Message-ID of the first message
// in the thread with the given hex legacy id.
func (c *Client) ResolveLegacyToMessage(ctx context.Context, legacyThreadID string) (string, error) {
	if err := c.ready(); err != nil {
		return "", err
	}
	thread, err := c.Service.Users.Threads.Get(c.user, legacyThreadID).
		Format("metadata").
		MetadataHeaders(messageIDHeader).
		Context(ctx).
		Do()
	if err != nil {
		return "", wrapAPIError("get thread "+legacyThreadID, err)
	}
	for _, msg := range thread.Messages {
		if id := extractHeader(msg, messageIDHeader); id != "" {
			return id, nil
		}
	}
	return "", fmt.Errorf("thread %s has no %s header: %w", legacyThreadID, messageIDHeader, ErrNotFound)
}

// ResolveMessageToLegacy returns the hex thread id holding the message with
// the given RFC822 Message-ID.
func (c *Client) ResolveMessageToLegacy(ctx context.Context, messageID string) (string, error) {
	if err := c.ready(); err != nil {
		return "", err
	}
	res, err := c.Service.Users.Messages.List(c.user).
		Q("rfc822msgid:" + strings.Trim(messageID, "<>")).
		IncludeSpamTrash(true).
		MaxResults(1).
		Context(ctx).
		Do()
	if err != nil {
		return "", wrapAPIError("search "+messageID, err)
	}
	for _, msg := range res.Messages {
		if msg.ThreadId != "" {
			return msg.ThreadId, nil
		}
	}
	return "", fmt.Errorf("message %s: %w", messageID, ErrNotFound)
}

func wrapAPIError(op string, err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func extractHeader(msg *gmail.Message, name string) string {
	if msg == nil || msg.Payload == nil || msg.Payload.Headers == nil {
		return ""
	}

	for _, header := range msg.Payload.Headers {
		if strings.EqualFold(header.Name, name) {
			return strings.TrimSpace(header.Value)
		}
	}

	return ""
}
