// Package plexrefresh signals a Plex server to refresh its library
// sections after a reconciliation run.
package plexrefresh

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config holds connection settings for a Plex server.
type Config struct {
	URL         string
	Token       string
	HTTPTimeout time.Duration
}

// Client calls Plex's library refresh endpoint. Fire-and-forget: the
// refresh is requested once per run and never waited on.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     zerolog.Logger
}

// Option is a functional option for configuring a client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// New creates a Plex refresh client.
func New(cfg Config, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(cfg.URL, "/"),
		token:   cfg.Token,
		httpClient: &http.Client{
			Timeout: cfg.HTTPTimeout,
		},
		logger: zerolog.Nop(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// RefreshLibrary asks Plex to refresh all library sections.
func (c *Client) RefreshLibrary(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/library/sections/all/refresh", nil)
	if err != nil {
		return err
	}

	req.Header.Set("X-Plex-Token", c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to refresh plex library: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("plex returned status %d", resp.StatusCode)
	}

	c.logger.Info().Msg("plex library refresh triggered")
	return nil
}
