// Package restclient talks to the conversation REST surface.
package restclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"

	"dm-service/api"
)

const DefaultTimeout = 10 * time.Second

// StatusError is an error envelope returned by the server.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Code, e.Message)
}

// IsStatus reports whether err is a server error with the given HTTP code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == code
}

type Client struct {
	http    *fiber.Client
	baseURL string
	timeout time.Duration

	mu     sync.RWMutex
	tokens api.Tokens
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithAccessToken authenticates requests with an existing access token.
func WithAccessToken(token string) Option {
	return func(c *Client) { c.tokens.Access = token }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		http:    fiber.AcquireClient(),
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Tokens() api.Tokens {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tokens
}

// SignIn exchanges credentials for tokens and keeps them for later calls.
func (c *Client) SignIn(ctx context.Context, login, password string) (*api.Tokens, error) {
	var tokens api.Tokens
	err := c.do(ctx, fiber.MethodPost, "/v1/auth/signin", api.SigninInput{Login: login, Password: password}, &tokens)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.tokens = tokens
	c.mu.Unlock()
	return &tokens, nil
}

func (c *Client) ListConversations(ctx context.Context) ([]api.ConversationSummary, error) {
	var out []api.ConversationSummary
	if err := c.do(ctx, fiber.MethodGet, "/v1/conversations", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// OpenConversation returns the conversation with otherUserID, creating it on
// first contact.
func (c *Client) OpenConversation(ctx context.Context, otherUserID uint) (*api.Conversation, error) {
	var out api.Conversation
	err := c.do(ctx, fiber.MethodPost, "/v1/conversations", api.CreateConversationInput{OtherUserID: otherUserID}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetMessages(ctx context.Context, conversationID string) ([]api.Message, error) {
	var out []api.Message
	if err := c.do(ctx, fiber.MethodGet, conversationPath(conversationID), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) SendMessage(ctx context.Context, conversationID, content string) (*api.Message, error) {
	var out api.Message
	err := c.do(ctx, fiber.MethodPost, conversationPath(conversationID), api.SendMessageInput{Content: content}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func conversationPath(id string) string {
	return "/v1/conversations/" + url.PathEscape(id)
}

type result struct {
	code int
	body []byte
	errs []error
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var agent *fiber.Agent
	switch method {
	case fiber.MethodPost:
		agent = c.http.Post(c.baseURL + path)
	default:
		agent = c.http.Get(c.baseURL + path)
	}
	agent.Timeout(c.timeout)
	if token := c.Tokens().Access; token != "" {
		agent.Set(fiber.HeaderAuthorization, "Bearer "+token)
	}
	if in != nil {
		agent.JSON(in)
	}

	// The agent has no context hook; an abandoned request ends at its timeout.
	done := make(chan result, 1)
	go func() {
		code, body, errs := agent.Bytes()
		done <- result{code: code, body: body, errs: errs}
	}()

	var r result
	select {
	case <-ctx.Done():
		return ctx.Err()
	case r = <-done:
	}
	if len(r.errs) > 0 {
		return fmt.Errorf("%s %s: %w", method, path, errors.Join(r.errs...))
	}
	return decode(r.code, r.body, out)
}

func decode(code int, body []byte, out any) error {
	var resp api.Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return &StatusError{Code: code, Message: fmt.Sprintf("malformed response: %v", err)}
	}
	if code >= fiber.StatusBadRequest || resp.Status != api.StatusSuccess {
		msg := fiber.ErrInternalServerError.Message
		if resp.Message != nil {
			msg = *resp.Message
		}
		return &StatusError{Code: code, Message: msg}
	}
	if out == nil || len(resp.Data) == 0 || string(resp.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(resp.Data, out); err != nil {
		return fmt.Errorf("decode response data: %w", err)
	}
	return nil
}
