package mqtt

import (
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-relay/internal/infrastructure/config"
)

// Connection constants.
const (
	// defaultConnectTimeout bounds Connect when the config leaves it unset.
	defaultConnectTimeout = 10 * time.Second

	// defaultOperationTimeout bounds subscribe and publish acknowledgements.
	defaultOperationTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on Close.
	defaultDisconnectQuiesce = 1000 // milliseconds

	// dropQuiesce is used when tearing down a half-established session.
	dropQuiesce = 250 // milliseconds

	// defaultKeepAlive is the keepalive interval when the config leaves it unset.
	defaultKeepAlive = 15 * time.Second

	// controlQoS is the subscription QoS for the control topic (at most once).
	controlQoS byte = 0

	// statusQoS is used for availability messages and the LWT.
	statusQoS byte = 1
)

// buildClientOptions creates paho options for one connection attempt.
//
// This configures:
//   - Broker URL (plain tcp://)
//   - Client ID for identification
//   - Authentication credentials (if provided)
//   - Clean session with no automatic reconnect; the session manager
//     decides when to reconnect
//   - Connect timeout and keepalive
func buildClientOptions(cfg config.MQTTConfig, host string, port int, clientID string) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", host, port))
	opts.SetClientID(clientID)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}

	opts.SetCleanSession(true)
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetResumeSubs(false)

	connectTimeout := cfg.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = defaultConnectTimeout
	}
	opts.SetConnectTimeout(connectTimeout)

	keepAlive := cfg.KeepAlive
	if keepAlive <= 0 {
		keepAlive = defaultKeepAlive
	}
	opts.SetKeepAlive(keepAlive)

	if cfg.StatusTopic != "" {
		configureLWT(opts, cfg.StatusTopic, clientID)
	}

	return opts
}

// configureLWT sets up Last Will and Testament for offline detection.
//
// The broker publishes it if the node drops off without a clean
// disconnect (power loss, WiFi loss).
//
// QoS: 1, Retained: true (new subscribers see last status)
func configureLWT(opts *pahomqtt.ClientOptions, topic, clientID string) {
	willPayload := fmt.Sprintf(
		`{"status":"offline","client_id":"%s","reason":"unexpected_disconnect","timestamp":"%s"}`,
		clientID,
		time.Now().UTC().Format(time.RFC3339),
	)

	opts.SetWill(topic, willPayload, statusQoS, true)
}

// buildOnlinePayload creates the JSON payload for online status messages.
func buildOnlinePayload(clientID string) string {
	return fmt.Sprintf(
		`{"status":"online","client_id":"%s","timestamp":"%s"}`,
		clientID,
		time.Now().UTC().Format(time.RFC3339),
	)
}

// buildOfflinePayload creates the JSON payload for graceful offline status.
func buildOfflinePayload(clientID string) string {
	return fmt.Sprintf(
		`{"status":"offline","client_id":"%s","reason":"graceful_shutdown","timestamp":"%s"}`,
		clientID,
		time.Now().UTC().Format(time.RFC3339),
	)
}
