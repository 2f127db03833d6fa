package bus

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/JacobSoderblom/krypin/internal/metrics"
)

// MQTTOptions configures the broker connection.
type MQTTOptions struct {
	Host     string
	Port     int
	ClientID string
	Username string
	Password string
	TLS      bool
}

// MQTT is the broker-backed Bus. Topics pass through to MQTT verbatim
// (dotted names are single-level MQTT topics); the client subscribes to
// the "#" firehose once and every Subscribe pattern is filtered locally,
// so pattern semantics are identical to the in-process bus. Messages
// published here reach local subscribers via the broker echo.
type MQTT struct {
	cm     *autopaho.ConnectionManager
	local  *Memory
	logger *slog.Logger
}

// NewMQTT connects to the broker and starts routing incoming publishes
// into the local fanout. If the broker is unreachable at startup the
// error is logged and autopaho keeps retrying in the background.
func NewMQTT(ctx context.Context, opts MQTTOptions, m *metrics.Metrics, logger *slog.Logger) (*MQTT, error) {
	scheme := "mqtt"
	if opts.TLS {
		scheme = "mqtts"
	}
	brokerURL := &url.URL{
		Scheme: scheme,
		Host:   net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port)),
	}

	b := &MQTT{
		local:  NewMemory(m),
		logger: logger,
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:                    []*url.URL{brokerURL},
		KeepAlive:                     30,
		CleanStartOnInitialConnection: true,
		ConnectUsername:               opts.Username,
		ConnectPassword:               []byte(opts.Password),
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			logger.Info("mqtt connected to broker", "broker", brokerURL.String())
			if _, err := cm.Subscribe(ctx, &paho.Subscribe{
				Subscriptions: []paho.SubscribeOptions{
					{Topic: "#", QoS: 1},
				},
			}); err != nil {
				logger.Warn("mqtt subscribe failed", "error", err)
			}
		},
		OnConnectError: func(err error) {
			logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: opts.ClientID,
			OnPublishReceived: []func(paho.PublishReceived) (bool, error){
				func(pr paho.PublishReceived) (bool, error) {
					err := b.local.Publish(ctx, Message{
						Topic:      pr.Packet.Topic,
						Payload:    pr.Packet.Payload,
						ReceivedAt: time.Now().UTC(),
					})
					return true, err
				},
			},
			OnClientError: func(err error) {
				logger.Warn("mqtt client error", "error", err)
			},
		},
	}

	if opts.TLS {
		pahoCfg.TlsCfg = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	b.cm = cm

	// Wait for the initial connection before handing the bus out.
	connCtx, connCancel := context.WithTimeout(ctx, 30*time.Second)
	defer connCancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		// Log but don't fail; autopaho keeps retrying in the background.
		logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}

	return b, nil
}

// Publish sends msg to the broker at QoS 1. Local subscribers receive
// it when the broker echoes it back on the firehose subscription.
func (b *MQTT) Publish(ctx context.Context, msg Message) error {
	if _, err := b.cm.Publish(ctx, &paho.Publish{
		Topic:   msg.Topic,
		Payload: msg.Payload,
		QoS:     1,
	}); err != nil {
		return fmt.Errorf("mqtt publish %s: %w", msg.Topic, err)
	}
	return nil
}

// Subscribe registers a pattern against the local fanout fed by the
// firehose subscription.
func (b *MQTT) Subscribe(ctx context.Context, pattern string) (<-chan Message, error) {
	return b.local.Subscribe(ctx, pattern)
}

// Close disconnects from the broker and closes all subscriptions.
func (b *MQTT) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if b.cm != nil {
		if err := b.cm.Disconnect(ctx); err != nil {
			b.logger.Warn("mqtt disconnect", "error", err)
		}
	}
	return b.local.Close()
}
