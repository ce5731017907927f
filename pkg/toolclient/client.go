// Package toolclient invokes named tools on the remote MCP tool service.
//
// Every Invoke dials a fresh session, checks that the tool is advertised,
// calls it and closes the session. Transport failures are retried with
// exponential backoff; a missing tool or a failure reported by the tool
// itself is returned immediately.
package toolclient

import (
	"context"
	"encoding/json"
	"slices"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/ekaya-inc/sqlai-console/pkg/apperrors"
	"github.com/ekaya-inc/sqlai-console/pkg/logging"
	"github.com/ekaya-inc/sqlai-console/pkg/models"
	"github.com/ekaya-inc/sqlai-console/pkg/retry"
)

// Invoker is the contract controllers depend on.
type Invoker interface {
	Invoke(ctx context.Context, toolName string, args map[string]any) (*Result, error)
}

// Observer receives one ToolInvocation per attempt.
type Observer func(inv models.ToolInvocation)

// Result is a successful tool response.
type Result struct {
	// StructuredContent is the JSON object envelope, nil when the tool sent none.
	StructuredContent map[string]any
	// Text joins the text content parts.
	Text string
}

// Structured returns the envelope or apperrors.ErrNoStructuredContent.
func (r *Result) Structured() (map[string]any, error) {
	if r == nil || r.StructuredContent == nil {
		return nil, apperrors.ErrNoStructuredContent
	}
	return r.StructuredContent, nil
}

// Client is safe for concurrent use; it keeps no state between calls.
type Client struct {
	dial        Dialer
	policy      retry.Config
	callTimeout time.Duration
	observers   []Observer
	logger      *zap.Logger
}

var _ Invoker = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithRetryConfig replaces the default retry policy.
func WithRetryConfig(cfg *retry.Config) Option {
	return func(c *Client) {
		if cfg != nil {
			c.policy = *cfg
		}
	}
}

// WithCallTimeout bounds each attempt (dial through response). Zero disables it.
func WithCallTimeout(d time.Duration) Option {
	return func(c *Client) { c.callTimeout = d }
}

// WithObserver registers an attempt observer.
func WithObserver(o Observer) Option {
	return func(c *Client) {
		if o != nil {
			c.observers = append(c.observers, o)
		}
	}
}

// New creates a client that dials the MCP endpoint at serviceURL.
func New(serviceURL, version string, logger *zap.Logger, opts ...Option) *Client {
	info := mcp.Implementation{Name: "sqlai-console", Version: version}
	return NewWithDialer(HTTPDialer(serviceURL, info), logger, opts...)
}

// NewWithDialer creates a client over an arbitrary Dialer.
func NewWithDialer(dial Dialer, logger *zap.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		dial:   dial,
		policy: *retry.DefaultConfig(),
		logger: logger.Named("toolclient"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Invoke calls toolName with args, retrying transient failures.
// After the last attempt the error of that attempt is returned as is.
func (c *Client) Invoke(ctx context.Context, toolName string, args map[string]any) (*Result, error) {
	policy := c.policy
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		c.logger.Warn("Tool call failed, retrying",
			zap.String("tool", toolName),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.String("error", logging.SanitizeError(err)))
	}

	attempt := 0
	return retry.DoWithResult(ctx, &policy, func() (*Result, error) {
		attempt++
		start := time.Now()
		res, err := c.attempt(ctx, toolName, args)
		c.notify(models.ToolInvocation{
			ToolName:  toolName,
			Arguments: args,
			Attempt:   attempt,
			Outcome:   classify(err),
			Err:       err,
			Duration:  time.Since(start),
		})
		return res, err
	})
}

func (c *Client) attempt(ctx context.Context, toolName string, args map[string]any) (*Result, error) {
	if c.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.callTimeout)
		defer cancel()
	}

	sess, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			c.logger.Debug("Failed to close tool session", zap.Error(cerr))
		}
	}()

	names, err := sess.ListTools(ctx)
	if err != nil {
		return nil, err
	}
	if !slices.Contains(names, toolName) {
		return nil, &ToolNotFoundError{Tool: toolName, Available: names}
	}

	raw, err := sess.CallTool(ctx, toolName, args)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, ErrMalformedResponse
	}

	text := joinText(raw.Content)
	if raw.IsError {
		return nil, &ToolError{Tool: toolName, Message: text}
	}
	return &Result{
		StructuredContent: asObject(raw.StructuredContent),
		Text:              text,
	}, nil
}

func (c *Client) notify(inv models.ToolInvocation) {
	if ce := c.logger.Check(zap.DebugLevel, "Tool call attempt"); ce != nil {
		fields := []zap.Field{
			zap.String("tool", inv.ToolName),
			zap.Any("arguments", logging.RedactArguments(inv.Arguments)),
			zap.Int("attempt", inv.Attempt),
			zap.String("outcome", string(inv.Outcome)),
			zap.Duration("duration", inv.Duration),
		}
		if inv.Err != nil {
			fields = append(fields, zap.String("error", logging.SanitizeError(inv.Err)))
		}
		ce.Write(fields...)
	}
	for _, o := range c.observers {
		o(inv)
	}
}

func classify(err error) models.ToolInvocationOutcome {
	switch err.(type) {
	case nil:
		return models.ToolOutcomeSuccess
	case *ToolNotFoundError:
		return models.ToolOutcomeNotFound
	case *ToolError:
		return models.ToolOutcomeToolError
	default:
		return models.ToolOutcomeTransient
	}
}

func joinText(content []mcp.Content) string {
	var parts []string
	for _, c := range content {
		switch tc := c.(type) {
		case mcp.TextContent:
			parts = append(parts, tc.Text)
		case *mcp.TextContent:
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// asObject normalizes the decoded envelope to a JSON object.
// Anything that is not an object counts as no envelope.
func asObject(v any) map[string]any {
	switch m := v.(type) {
	case nil:
		return nil
	case map[string]any:
		return m
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil
	}
	return out
}
