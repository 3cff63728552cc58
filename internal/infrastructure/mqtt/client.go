package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-relay/internal/infrastructure/config"
)

// Client is a pull-style MQTT transport built on paho.mqtt.golang.
//
// paho delivers messages on its own goroutines; Client parks them in a
// bounded queue and hands them to the registered callback only when Loop
// is called. The caller therefore decides on which goroutine, and how
// often, messages are processed.
//
// Reconnection is not automatic: when the connection drops IsConnected
// turns false and the owner calls Connect again.
//
// Thread Safety:
//   - All methods are safe for concurrent use. The callback only runs
//     inside Loop.
type Client struct {
	cfg config.MQTTConfig

	mu       sync.RWMutex
	client   pahomqtt.Client
	host     string
	port     int
	clientID string
	callback func(topic string, payload []byte)

	inbound chan inboundMessage
	dropped atomic.Uint64

	// logger for connection and queue diagnostics (optional, set via SetLogger).
	logger   Logger
	loggerMu sync.RWMutex

	// newPaho builds the underlying client; replaced in tests.
	newPaho func(*pahomqtt.ClientOptions) pahomqtt.Client
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

type inboundMessage struct {
	topic   string
	payload []byte
}

// New creates a disconnected client. Broker host and port default to the
// configured broker until SetServer is called.
func New(cfg config.MQTTConfig) *Client {
	size := cfg.InboundQueue
	if size < 1 {
		size = 1
	}
	return &Client{
		cfg:     cfg,
		host:    cfg.Broker.Host,
		port:    cfg.Broker.Port,
		inbound: make(chan inboundMessage, size),
		newPaho: pahomqtt.NewClient,
	}
}

// SetServer sets the broker address used by subsequent Connect calls.
func (c *Client) SetServer(host string, port int) {
	c.mu.Lock()
	c.host = host
	c.port = port
	c.mu.Unlock()
}

// SetCallback registers the function Loop delivers messages to.
func (c *Client) SetCallback(fn func(topic string, payload []byte)) {
	c.mu.Lock()
	c.callback = fn
	c.mu.Unlock()
}

// Connect opens a new clean session identified by clientID.
//
// Any previous connection is dropped first and messages still queued from
// it are discarded. When a status topic is configured the retained online
// payload is published after the broker accepts the session.
//
// Parameters:
//   - ctx: Cancels the wait for the broker's CONNACK
//   - clientID: MQTT client identifier for this session
//
// Returns:
//   - error: wraps ErrConnectionFailed (and ErrTimeout or ctx.Err() when applicable)
func (c *Client) Connect(ctx context.Context, clientID string) error {
	c.mu.RLock()
	host, port := c.host, c.port
	old := c.client
	c.mu.RUnlock()

	if host == "" || port == 0 {
		return ErrNoServer
	}
	if old != nil {
		c.mu.Lock()
		c.client = nil
		c.mu.Unlock()
		old.Disconnect(dropQuiesce)
	}
	c.drainQueue()

	opts := buildClientOptions(c.cfg, host, port, clientID)
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		if logger := c.getLogger(); logger != nil {
			logger.Warn("MQTT connection lost", "broker", fmt.Sprintf("%s:%d", host, port), "error", err)
		}
	})

	client := c.newPaho(opts)
	timeout := c.cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	if err := waitToken(ctx, client.Connect(), timeout); err != nil {
		client.Disconnect(0)
		return fmt.Errorf("%w: %s:%d: %w", ErrConnectionFailed, host, port, err)
	}

	c.mu.Lock()
	c.client = client
	c.clientID = clientID
	c.mu.Unlock()

	if c.cfg.StatusTopic != "" {
		if err := c.Publish(ctx, c.cfg.StatusTopic, []byte(buildOnlinePayload(clientID)), true); err != nil {
			if logger := c.getLogger(); logger != nil {
				logger.Warn("publishing online status failed", "topic", c.cfg.StatusTopic, "error", err)
			}
		}
	}

	return nil
}

// IsConnected reports whether the network connection to the broker is open.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	client := c.client
	c.mu.RUnlock()
	return client != nil && client.IsConnectionOpen()
}

// Disconnect drops the current connection without announcing it. The LWT,
// if configured, is not sent because the disconnect is clean.
func (c *Client) Disconnect() {
	c.mu.Lock()
	client := c.client
	c.client = nil
	c.mu.Unlock()

	if client != nil {
		client.Disconnect(dropQuiesce)
	}
}

// Close publishes the graceful offline status (if configured) and
// disconnects from the broker.
//
// Returns:
//   - error: always nil; a connection that is already closed is not an error
func (c *Client) Close() error {
	c.mu.RLock()
	clientID := c.clientID
	c.mu.RUnlock()

	// Close runs during shutdown, usually after the caller's context has
	// ended, so the offline status is bounded by the operation timeout only.
	if c.cfg.StatusTopic != "" && c.IsConnected() {
		if err := c.Publish(context.Background(), c.cfg.StatusTopic, []byte(buildOfflinePayload(clientID)), true); err != nil {
			if logger := c.getLogger(); logger != nil {
				logger.Warn("publishing offline status failed", "error", err)
			}
		}
	}

	c.mu.Lock()
	client := c.client
	c.client = nil
	c.mu.Unlock()

	if client != nil {
		client.Disconnect(defaultDisconnectQuiesce)
	}
	return nil
}

// HealthCheck verifies the MQTT connection is alive.
func (c *Client) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// Dropped returns how many inbound messages were discarded because the
// queue was full.
func (c *Client) Dropped() uint64 {
	return c.dropped.Load()
}

// SetLogger sets a logger for connection and queue diagnostics.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

// getLogger returns the current logger (may be nil).
func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

// waitToken waits for a paho token, the context, or the timeout.
func waitToken(ctx context.Context, token pahomqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("%w after %v", ErrTimeout, timeout)
	}
}
