package otas

import (
	"context"

	"github.com/rs/zerolog"
)

// Client ties the pipeline together: it authenticates once at construction,
// holds the resulting identity and sensitive-header set read-only, and feeds
// assembled events to its dispatcher. All methods are safe for concurrent
// use by request handlers.
type Client struct {
	cfg        Config
	identity   *Identity
	sensitive  SensitiveHeaderSet
	dispatcher *Dispatcher
	logger     zerolog.Logger
	enabled    bool
}

// New builds a Client, performing the one blocking authentication exchange.
// A missing key or a rejected key fails construction; callers are expected
// to treat that as fatal at startup.
func New(cfg Config) (*Client, error) {
	if cfg.Enabled != nil && !*cfg.Enabled {
		return NewNoop(), nil
	}

	cfg = cfg.withDefaults()
	logger := *cfg.Logger

	identity, err := Authenticate(context.Background(), cfg.HTTPClient, cfg.AuthEndpoint, cfg.SDKKey)
	if err != nil {
		return nil, err
	}

	logger.Info().
		Str("project_id", identity.ProjectID).
		Str("project_name", identity.ProjectName).
		Msg("otas project initialised")

	return &Client{
		cfg:        cfg,
		identity:   identity,
		sensitive:  NewSensitiveHeaderSet(cfg.SensitiveHeaders...),
		dispatcher: newDispatcher(cfg, logger),
		logger:     logger,
		enabled:    true,
	}, nil
}

// NewNoop returns a disabled Client. Every middleware built on it becomes a
// pass-through and Record discards its input.
func NewNoop() *Client {
	return &Client{
		sensitive: NewSensitiveHeaderSet(),
		logger:    zerolog.Nop(),
	}
}

// Enabled reports whether this client observes traffic at all.
func (c *Client) Enabled() bool {
	return c != nil && c.enabled
}

// Identity returns the authenticated project context, or nil for a disabled
// client.
func (c *Client) Identity() *Identity {
	if c == nil {
		return nil
	}
	return c.identity
}

// Sensitive returns the header names redacted by this client.
func (c *Client) Sensitive() SensitiveHeaderSet {
	if c == nil {
		return NewSensitiveHeaderSet()
	}
	return c.sensitive
}

// Record assembles one event from the request-scoped snapshots and hands it
// to the dispatcher. It never blocks beyond a channel send attempt and never
// returns an error.
func (c *Client) Record(req RequestSnapshot, resp ResponseSnapshot, latencyMS float64, errText string) {
	if !c.Enabled() {
		return
	}
	c.dispatcher.Enqueue(Assemble(c.identity, req, resp, latencyMS, errText))
}

// Shutdown flushes in-flight sends, bounded by the context deadline.
func (c *Client) Shutdown(ctx context.Context) error {
	if !c.Enabled() {
		return nil
	}
	return c.dispatcher.Shutdown(ctx)
}

// Close is Shutdown without a deadline.
func (c *Client) Close() error {
	return c.Shutdown(context.Background())
}
