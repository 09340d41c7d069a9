// Package client is a typed HTTP client for the signaling API. A call
// participant process uses it as its signal sender, mailbox, chat reader,
// call history recorder and SDP broker.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"support-calls/internal/auth"
	"support-calls/internal/calllog"
	"support-calls/internal/chatlog"
	"support-calls/internal/peer"
	"support-calls/internal/signalbus"
)

const (
	defaultTimeout = 10 * time.Second
	maxBody        = 1 << 20
)

// Compile-time interface check.
var _ peer.Broker = (*Client)(nil)

// StatusError is a non-2xx API response.
type StatusError struct {
	Op      string
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: HTTP %d", e.Op, e.Code)
	}
	return fmt.Sprintf("%s: HTTP %d: %s", e.Op, e.Code, e.Message)
}

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == code
}

type Client struct {
	base  string
	token string
	http  *http.Client
}

// New returns a client for the API rooted at baseURL. A nil httpClient uses
// one with a 10s timeout.
func New(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{base: strings.TrimRight(baseURL, "/"), token: token, http: httpClient}
}

// Me returns the principal the token was issued for.
func (c *Client) Me(ctx context.Context) (auth.Principal, error) {
	var out struct {
		User auth.Principal `json:"user"`
	}
	if err := c.do(ctx, "me", http.MethodGet, "/v1/me", nil, &out); err != nil {
		return auth.Principal{}, err
	}
	return out.User, nil
}

type sendSignalRequest struct {
	To   string          `json:"to"`
	Type signalbus.Type  `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Send posts one signal from the token's principal.
func (c *Client) Send(ctx context.Context, to string, typ signalbus.Type, payload any) error {
	raw, err := signalbus.EncodePayload(payload)
	if err != nil {
		return fmt.Errorf("send signal: %w", err)
	}
	return c.do(ctx, "send signal", http.MethodPost, "/v1/signals", sendSignalRequest{To: to, Type: typ, Data: raw}, nil)
}

// Drain claims every pending signal for the token's principal.
func (c *Client) Drain(ctx context.Context) ([]signalbus.Signal, error) {
	var out struct {
		Signals []signalbus.Signal `json:"signals"`
	}
	if err := c.do(ctx, "drain signals", http.MethodGet, "/v1/signals", nil, &out); err != nil {
		return nil, err
	}
	return out.Signals, nil
}

// Thread returns the customer's own messages, oldest first.
func (c *Client) Thread(ctx context.Context) ([]chatlog.Message, error) {
	var out struct {
		Messages []chatlog.Message `json:"messages"`
	}
	if err := c.do(ctx, "thread", http.MethodGet, "/v1/contact", nil, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

// AllMessages returns every message, newest first. Support only.
func (c *Client) AllMessages(ctx context.Context) ([]chatlog.Message, error) {
	var out struct {
		Messages []chatlog.Message `json:"messages"`
	}
	if err := c.do(ctx, "messages", http.MethodGet, "/v1/admin/messages", nil, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

type contactRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Message  string `json:"message"`
	ImageURL string `json:"imageUrl,omitempty"`
}

// Contact posts a customer message.
func (c *Client) Contact(ctx context.Context, name, email, body, imageURL string) (chatlog.Message, error) {
	var out struct {
		Data chatlog.Message `json:"data"`
	}
	req := contactRequest{Name: name, Email: email, Message: body, ImageURL: imageURL}
	if err := c.do(ctx, "contact", http.MethodPost, "/v1/contact", req, &out); err != nil {
		return chatlog.Message{}, err
	}
	return out.Data, nil
}

type updateMessageRequest struct {
	ID            string         `json:"id"`
	Reply         string         `json:"reply,omitempty"`
	Status        chatlog.Status `json:"status,omitempty"`
	ReplyImageURL string         `json:"replyImageUrl,omitempty"`
}

// Reply appends a support reply turn to message id.
func (c *Client) Reply(ctx context.Context, id, text string) (chatlog.Message, error) {
	var out struct {
		Data chatlog.Message `json:"data"`
	}
	if err := c.do(ctx, "reply", http.MethodPut, "/v1/admin/messages", updateMessageRequest{ID: id, Reply: text}, &out); err != nil {
		return chatlog.Message{}, err
	}
	return out.Data, nil
}

type recordEventRequest struct {
	Customer  string       `json:"customer"`
	Kind      calllog.Kind `json:"kind"`
	MediaKind string       `json:"mediaKind,omitempty"`
	Message   string       `json:"message,omitempty"`
}

// Record appends a call history event. The server stamps the actor.
func (c *Client) Record(ctx context.Context, e calllog.Event) error {
	req := recordEventRequest{Customer: e.Customer, Kind: e.Kind, MediaKind: e.MediaKind, Message: e.Message}
	return c.do(ctx, "record call event", http.MethodPost, "/v1/calls/events", req, nil)
}

// Publish hands an SDP envelope to the broker for endpoint to.
func (c *Client) Publish(ctx context.Context, to string, env peer.Envelope) error {
	return c.do(ctx, "publish envelope", http.MethodPost, "/v1/peer/"+url.PathEscape(to), env, nil)
}

// Claim takes every envelope waiting for endpoint.
func (c *Client) Claim(ctx context.Context, endpoint string) ([]peer.Envelope, error) {
	var out struct {
		Envelopes []peer.Envelope `json:"envelopes"`
	}
	if err := c.do(ctx, "claim envelopes", http.MethodGet, "/v1/peer/"+url.PathEscape(endpoint), nil, &out); err != nil {
		return nil, err
	}
	return out.Envelopes, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Op: op, Code: resp.StatusCode, Message: errorMessage(resp.Body)}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBody))
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBody)).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

func errorMessage(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil {
		return ""
	}
	var e struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &e) == nil && e.Message != "" {
		return e.Message
	}
	return strings.TrimSpace(string(raw))
}
