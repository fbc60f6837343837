package gmail

import (
	"context"
	"fmt"
	"html"
	"net/mail"
	"strings"

	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

const user = "me"

// UnreadQuery scopes the list call to unread inbox mail.
const UnreadQuery = "in:inbox is:unread -in:sent -in:draft -in:spam -in:trash"

var metadataHeaders = []string{"From", "Subject", "Date"}

// Client wraps the gmail.Service and provides convenience methods
type Client struct {
	Service *gmail.Service
}

// NewClient creates a new Gmail client
func NewClient(service *gmail.Service) *Client {
	return &Client{Service: service}
}

// NewClientForToken creates a client that authenticates every call with accessToken.
func NewClientForToken(ctx context.Context, accessToken string, opts ...option.ClientOption) (*Client, error) {
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"})
	opts = append([]option.ClientOption{option.WithHTTPClient(oauth2.NewClient(ctx, src))}, opts...)
	service, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("could not create Gmail service: %w", err)
	}
	return NewClient(service), nil
}

// ListUnreadIDs returns up to max unread inbox message ids, newest first as
// ordered by the server.
func (c *Client) ListUnreadIDs(ctx context.Context, max int64) ([]string, error) {
	call := c.Service.Users.Messages.List(user).Q(UnreadQuery).Context(ctx)
	if max > 0 {
		call = call.MaxResults(max)
	}
	res, err := call.Do()
	if err != nil {
		return nil, fmt.Errorf("could not list messages: %w", err)
	}
	ids := make([]string, 0, len(res.Messages))
	for _, m := range res.Messages {
		if m != nil && m.Id != "" {
			ids = append(ids, m.Id)
		}
	}
	return ids, nil
}

// GetMessage retrieves a message's metadata: the From, Subject and Date
// headers, snippet and labels.
func (c *Client) GetMessage(ctx context.Context, id string) (*gmail.Message, error) {
	msg, err := c.Service.Users.Messages.Get(user, id).
		Format("metadata").
		MetadataHeaders(metadataHeaders...).
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("could not get message %s: %w", id, err)
	}
	return msg, nil
}

func extractHeader(msg *gmail.Message, name string) string {
	if msg.Payload == nil || msg.Payload.Headers == nil {
		return ""
	}

	for _, header := range msg.Payload.Headers {
		if strings.EqualFold(header.Name, name) {
			return header.Value
		}
	}

	return ""
}

// sortKey prefers the server's internal timestamp, then the Date header.
func sortKey(msg *gmail.Message) int64 {
	if msg.InternalDate > 0 {
		return msg.InternalDate
	}
	if t, err := mail.ParseDate(extractHeader(msg, "Date")); err == nil {
		return t.UnixMilli()
	}
	return 0
}

func snippet(msg *gmail.Message) string {
	return html.UnescapeString(msg.Snippet)
}
