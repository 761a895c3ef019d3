package affinity

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/affinityml/affinity-go/realtime"
)

// channel is the surface of the realtime transport the client drives.
// *realtime.Channel implements it; tests substitute fakes.
type channel interface {
	Start(ctx context.Context) error
	Stop() error
	Close() error
	Invoke(ctx context.Context, method string, payload interface{}) error
	State() realtime.State
	Errors() <-chan error
}

// Client is the entry point to the Affinity platform. It owns a single
// realtime channel used for event collection and issues the two ML
// calls over HTTP. A Client is safe for concurrent use.
type Client struct {
	cfg     Config
	baseURL string
	logger  *slog.Logger

	httpClient *http.Client

	rtCfg   realtime.Config
	channel channel

	// Collapses teardown/re-establish sequences from racing Collect
	// calls into a single execution.
	reconnects singleflight.Group

	forwardDone chan struct{}
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger used by the client and its channel.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithHTTPClient sets a custom HTTP client for the ML calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithRealtimeConfig tunes the owned channel: timeouts, keepalive and
// the automatic reconnection policy. URL, AccessToken and Logger are
// derived from the client configuration and cannot be overridden here.
func WithRealtimeConfig(rt realtime.Config) Option {
	return func(c *Client) {
		c.rtCfg = rt
	}
}

// New creates a Client and asynchronously connects its channel. It
// returns an error only for invalid configuration; connection failures
// are logged and retried on the next Collect, never reported here.
func New(cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Client{
		cfg:        cfg,
		baseURL:    environmentBaseURLs[cfg.Environment],
		logger:     slog.Default(),
		httpClient: http.DefaultClient,
	}

	for _, opt := range opts {
		opt(c)
	}

	c.rtCfg.URL = channelURL(c.baseURL)
	c.rtCfg.AccessToken = cfg.APIKey
	c.rtCfg.Logger = c.logger
	c.channel = realtime.NewChannel(c.rtCfg)

	c.start()
	return c, nil
}

// start launches the error forwarding loop and the initial connection
// attempt.
func (c *Client) start() {
	c.forwardDone = make(chan struct{})
	go c.forwardErrors()

	go func() {
		if err := c.channel.Start(context.Background()); err != nil {
			c.logger.Warn("initial connection failed", "error", err)
		}
	}()
}

// forwardErrors logs asynchronous channel errors and hands them to the
// configured callback, one at a time. It exits when Close closes the
// channel's error stream.
func (c *Client) forwardErrors() {
	defer close(c.forwardDone)

	for err := range c.channel.Errors() {
		c.logger.Error("channel error", "error", err)
		if c.cfg.OnError != nil {
			c.cfg.OnError(err)
		}
	}
}

// Connect establishes the channel. It is a no-op when already
// connected; failures are logged, never returned.
func (c *Client) Connect(ctx context.Context) {
	if c.channel.State() == realtime.Connected {
		return
	}
	if err := c.channel.Start(ctx); err != nil {
		c.logger.Warn("connect failed", "error", err)
	}
}

// Disconnect tears the channel down. It is a no-op when already
// disconnected; failures are logged, never returned. The client can
// connect again afterwards.
func (c *Client) Disconnect() {
	if c.channel.State() == realtime.Disconnected {
		return
	}
	if err := c.channel.Stop(); err != nil {
		c.logger.Warn("disconnect failed", "error", err)
	}
}

// Reconnect forces the channel into a known-good state. Already
// connected is the cheap path and does nothing; every other state gets
// a full teardown and re-establish, without inspecting why the
// connection is down. Concurrent callers share a single sequence.
func (c *Client) Reconnect(ctx context.Context) {
	if c.channel.State() == realtime.Connected {
		return
	}

	c.reconnects.Do("reconnect", func() (interface{}, error) {
		c.Disconnect()
		c.Connect(ctx)
		return nil, nil
	})
}

// Collect sends a behavioural event over the channel, reconnecting
// first if the channel is not known-good. Delivery is best effort:
// failures at any step are logged and the event is dropped. Collect
// never returns an error to the caller.
//
// An event with an empty ID is assigned a generated UUID before
// sending; caller-provided IDs pass through untouched.
func (c *Client) Collect(ctx context.Context, event CollectionEvent) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}

	c.Reconnect(ctx)

	if err := c.channel.Invoke(ctx, "collect", event); err != nil {
		c.logger.Warn("collect failed, dropping event",
			"event_id", event.ID,
			"event_type", event.Type,
			"error", err,
		)
		return
	}

	c.logger.Debug("event collected", "event_id", event.ID, "event_type", event.Type)
}

// State reports the channel's current lifecycle state.
func (c *Client) State() realtime.State {
	return c.channel.State()
}

// Close releases the client: the channel is shut down for good and the
// error forwarding loop drains and exits. Use Disconnect instead to
// pause collection with the option of connecting again.
func (c *Client) Close() error {
	err := c.channel.Close()

	select {
	case <-c.forwardDone:
	case <-time.After(5 * time.Second):
		c.logger.Warn("error callback still running at close")
	}

	return err
}
