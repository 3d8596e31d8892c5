package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

const mqttQoS = 1

// MQTTClient carries signals over an MQTT broker instead of the WebSocket
// relay. Both participants share one topic per room; the broker plays the role
// of the relay, so chat is published directly as receive-message.
type MQTTClient struct {
	*Registry

	client mqtt.Client
	topic  string
	id     string
	logger *slog.Logger

	inbox chan Envelope
	done  chan struct{}
	once  sync.Once
}

// Topic returns the MQTT topic used for a room.
func Topic(roomID string) string {
	return fmt.Sprintf("warpcall/%s/signal", roomID)
}

// NewMQTTClient connects to broker and subscribes to the room topic.
func NewMQTTClient(ctx context.Context, broker, roomID string, logger *slog.Logger) (*MQTTClient, error) {
	if logger == nil {
		logger = slog.Default()
	}

	c := newMQTTClient(roomID, logger)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID("warpcall-" + c.id)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetOrderMatters(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		c.logger.Warn("mqtt connection lost", "err", err)
	})

	c.client = mqtt.NewClient(opts)
	if err := waitToken(ctx, c.client.Connect()); err != nil {
		return nil, fmt.Errorf("mqtt connect failed: %w", err)
	}

	if err := waitToken(ctx, c.client.Subscribe(c.topic, mqttQoS, c.onMessage)); err != nil {
		c.client.Disconnect(250)
		return nil, fmt.Errorf("subscribe failed: %w", err)
	}

	go c.route()
	return c, nil
}

func newMQTTClient(roomID string, logger *slog.Logger) *MQTTClient {
	c := &MQTTClient{
		Registry: &Registry{},
		topic:    Topic(roomID),
		id:       uuid.NewString(),
		inbox:    make(chan Envelope, 32),
		done:     make(chan struct{}),
	}
	c.logger = logger.With("component", "signaling", "transport", "mqtt", "client", c.id)
	return c
}

func waitToken(ctx context.Context, token mqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// onMessage runs on the paho router; it only queues so handlers never block it.
func (c *MQTTClient) onMessage(_ mqtt.Client, msg mqtt.Message) {
	var env Envelope
	if err := json.Unmarshal(msg.Payload(), &env); err != nil {
		c.logger.Warn("dropping undecodable mqtt message", "err", err)
		return
	}
	if env.From == c.id {
		return
	}

	select {
	case c.inbox <- env:
	case <-c.done:
	}
}

func (c *MQTTClient) route() {
	for {
		select {
		case env := <-c.inbox:
			sig, err := Parse(env)
			if err != nil {
				c.logger.Warn("dropping signaling message", "type", env.Type, "err", err)
				continue
			}
			c.Dispatch(sig)
		case <-c.done:
			return
		}
	}
}

// Send publishes sig on the room topic.
func (c *MQTTClient) Send(ctx context.Context, sig Signal) error {
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}

	if chat, ok := sig.(ChatSend); ok {
		sig = ChatReceive(chat)
	}

	env, err := Encode(sig)
	if err != nil {
		return err
	}
	env.From = c.id

	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return waitToken(ctx, c.client.Publish(c.topic, mqttQoS, false, payload))
}

// Close unsubscribes and disconnects from the broker.
func (c *MQTTClient) Close() error {
	c.once.Do(func() {
		close(c.done)
		if c.client != nil && c.client.IsConnected() {
			c.client.Unsubscribe(c.topic).WaitTimeout(writeWait)
			c.client.Disconnect(250)
		}
	})
	return nil
}
