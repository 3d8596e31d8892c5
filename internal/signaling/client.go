package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/BioHazard786/warpcall/internal/dns"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// Client is the peer side of the WebSocket relay. It implements Transport.
type Client struct {
	*Registry

	conn      *websocket.Conn
	serverURL string
	logger    *slog.Logger

	outgoing chan *Envelope
	done     chan struct{}
	once     sync.Once

	roomCreated chan string
	joinSuccess chan string
	peerJoined  chan struct{}
	peerLeft    chan struct{}
	relayErrors chan string
}

// NewClient creates a relay client. Call Connect before anything else.
func NewClient(serverURL string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		Registry:    &Registry{},
		serverURL:   serverURL,
		logger:      logger.With("component", "signaling"),
		outgoing:    make(chan *Envelope, 32),
		done:        make(chan struct{}),
		roomCreated: make(chan string, 1),
		joinSuccess: make(chan string, 1),
		peerJoined:  make(chan struct{}, 1),
		peerLeft:    make(chan struct{}, 1),
		relayErrors: make(chan string, 1),
	}
}

// Connect establishes the WebSocket connection to the relay.
func (c *Client) Connect(ctx context.Context) error {
	u, err := url.Parse(c.serverURL)
	if err != nil {
		return fmt.Errorf("invalid relay URL: %w", err)
	}

	dialer := *websocket.DefaultDialer
	dialer.NetDialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, err
		}

		resolvedIP, err := dns.Lookup(ctx, host)
		if err != nil {
			return nil, fmt.Errorf("dns lookup failed: %w", err)
		}

		var d net.Dialer
		return d.DialContext(ctx, network, net.JoinHostPort(resolvedIP, port))
	}

	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	c.conn = conn

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	incoming := make(chan *Envelope, 32)
	go c.readPump(incoming)
	go c.writePump()
	go c.route(incoming)

	c.logger.Debug("connected to relay", "url", u.String())
	return nil
}

// readPump reads envelopes from the WebSocket connection.
func (c *Client) readPump(incoming chan<- *Envelope) {
	defer func() {
		c.conn.Close()
		close(incoming)
		c.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		var env Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("relay read failed", "err", err)
			}
			return
		}
		incoming <- &env
	}
}

// writePump writes envelopes to the WebSocket connection and sends periodic pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)

	// Once the pump is gone nothing drains outgoing; closing the client makes
	// pending and later sends fail instead of blocking.
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.Close()
	}()

	for {
		select {
		case env := <-c.outgoing:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(env); err != nil {
				c.logger.Warn("relay write failed", "type", env.Type, "err", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// route sorts relay control events onto their channels and dispatches
// negotiation and chat events to subscribers, in arrival order.
func (c *Client) route(incoming <-chan *Envelope) {
	for env := range incoming {
		switch env.Type {
		case EventRoomCreated:
			notify(c.roomCreated, env.RoomID)

		case EventJoinSuccess:
			notify(c.joinSuccess, env.RoomID)

		case EventPeerJoined:
			notify(c.peerJoined, struct{}{})

		case EventPeerLeft:
			notify(c.peerLeft, struct{}{})

		case EventError:
			var payload ErrorPayload
			if err := json.Unmarshal(env.Payload, &payload); err != nil || payload.Error == "" {
				payload.Error = "unknown error from relay"
			}
			notify(c.relayErrors, payload.Error)

		default:
			sig, err := Parse(*env)
			if err != nil {
				c.logger.Warn("dropping signaling message", "type", env.Type, "err", err)
				continue
			}
			c.Dispatch(sig)
		}
	}
}

func notify[T any](ch chan T, v T) {
	select {
	case ch <- v:
	default:
	}
}

// CreateRoom asks the relay for a new room and returns its ID.
func (c *Client) CreateRoom(ctx context.Context) (string, error) {
	if err := c.sendEnvelope(ctx, &Envelope{Type: EventCreateRoom}); err != nil {
		return "", err
	}

	select {
	case roomID := <-c.roomCreated:
		return roomID, nil
	case msg := <-c.relayErrors:
		return "", fmt.Errorf("create room: %s", msg)
	case <-c.done:
		return "", ErrClientClosed
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// JoinRoom joins an existing room.
func (c *Client) JoinRoom(ctx context.Context, roomID string) error {
	if err := c.sendEnvelope(ctx, &Envelope{Type: EventJoinRoom, RoomID: roomID}); err != nil {
		return err
	}

	select {
	case <-c.joinSuccess:
		return nil
	case msg := <-c.relayErrors:
		return fmt.Errorf("join room %s: %s", roomID, msg)
	case <-c.done:
		return ErrClientClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PeerJoined fires when the other participant enters our room.
func (c *Client) PeerJoined() <-chan struct{} {
	return c.peerJoined
}

// PeerLeft fires when the other participant leaves our room.
func (c *Client) PeerLeft() <-chan struct{} {
	return c.peerLeft
}

// Errors carries error reports from the relay.
func (c *Client) Errors() <-chan string {
	return c.relayErrors
}

// Send encodes sig and queues it for the relay.
func (c *Client) Send(ctx context.Context, sig Signal) error {
	env, err := Encode(sig)
	if err != nil {
		return err
	}
	return c.sendEnvelope(ctx, &env)
}

func (c *Client) sendEnvelope(ctx context.Context, env *Envelope) error {
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}

	select {
	case c.outgoing <- env:
		return nil
	case <-c.done:
		return ErrClientClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close closes the WebSocket connection and cleans up resources.
func (c *Client) Close() error {
	c.once.Do(func() {
		close(c.done)
	})
	return nil
}
