// Package relay is the signaling relay: it pairs two participants in a room
// and forwards negotiation and chat events between them.
package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"

	"github.com/BioHazard786/warpcall/internal/signaling"
	petname "github.com/dustinkirkland/golang-petname"
)

// Error texts sent to clients in EventError payloads.
const (
	errRoomNotFound  = "Room not found"
	errRoomFull      = "Room is full"
	errNotInRoom     = "You must join a room first"
	errAlreadyInRoom = "Already in a room"
	errUnknownEvent  = "Unknown event"
)

const roomIDWords = 3

type inbound struct {
	client *Client
	env    signaling.Envelope
}

// Hub is the central brain of the relay. A single goroutine (Run) owns every
// room and client, so no locking is needed.
type Hub struct {
	rooms   map[string]*Room
	clients map[*Client]struct{}

	// Register is a channel for registering new clients.
	Register chan *Client

	// Unregister is a channel for unregistering clients.
	Unregister chan *Client

	// Broadcast carries envelopes read from clients.
	Broadcast chan *inbound

	roomCount chan chan int
	done      chan struct{}
	logger    *slog.Logger

	// dropped counts envelopes lost to full client buffers, candidates
	// included. It is reported on /health.
	dropped atomic.Int64
}

// NewHub creates a new Hub instance.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		rooms:      make(map[string]*Room),
		clients:    make(map[*Client]struct{}),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		Broadcast:  make(chan *inbound),
		roomCount:  make(chan chan int),
		done:       make(chan struct{}),
		logger:     logger.With("component", "relay"),
	}
}

// generateRoomID returns an unused petname such as "wildly-noble-otter".
func (h *Hub) generateRoomID() string {
	for {
		id := petname.Generate(roomIDWords, "-")
		if _, ok := h.rooms[id]; !ok {
			return id
		}
	}
}

// Rooms returns the number of open rooms. It returns 0 once the hub stopped.
func (h *Hub) Rooms() int {
	reply := make(chan int, 1)
	select {
	case h.roomCount <- reply:
		return <-reply
	case <-h.done:
		return 0
	}
}

func (h *Hub) register(c *Client) bool {
	select {
	case h.Register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) unregister(c *Client) {
	select {
	case h.Unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) dispatch(msg *inbound) bool {
	select {
	case h.Broadcast <- msg:
		return true
	case <-h.done:
		return false
	}
}

// Run processes hub events until ctx is done, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		close(h.done)
		for c := range h.clients {
			close(c.Send)
		}
		h.clients = nil
		h.rooms = nil
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.Register:
			h.clients[client] = struct{}{}
			client.logger.Debug("client registered")

		case client := <-h.Unregister:
			h.leave(client)

		case reply := <-h.roomCount:
			reply <- len(h.rooms)

		case msg := <-h.Broadcast:
			h.handle(msg.client, msg.env)
		}
	}
}

func (h *Hub) leave(client *Client) {
	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	client.logger.Debug("client unregistered")

	if room, ok := h.rooms[client.RoomID]; ok {
		other := room.other(client)
		room.remove(client)

		if room.empty() {
			delete(h.rooms, room.ID)
			h.logger.Info("room deleted", "room", room.ID)
		} else if other != nil {
			h.logger.Info("peer left room", "room", room.ID)
			h.send(other, &signaling.Envelope{Type: signaling.EventPeerLeft, RoomID: room.ID})
		}
	}

	close(client.Send)
}

func (h *Hub) handle(client *Client, env signaling.Envelope) {
	if _, ok := h.clients[client]; !ok {
		return
	}
	client.logger.Debug("envelope received", "type", env.Type)

	switch env.Type {
	case signaling.EventCreateRoom:
		if client.RoomID != "" {
			h.sendError(client, errAlreadyInRoom)
			return
		}

		room := &Room{ID: h.generateRoomID(), Host: client}
		h.rooms[room.ID] = room
		client.RoomID = room.ID
		h.logger.Info("room created", "room", room.ID, "client", client.ID)

		h.send(client, &signaling.Envelope{Type: signaling.EventRoomCreated, RoomID: room.ID})

	case signaling.EventJoinRoom:
		if client.RoomID != "" {
			h.sendError(client, errAlreadyInRoom)
			return
		}

		room, ok := h.rooms[env.RoomID]
		if !ok {
			h.sendError(client, errRoomNotFound)
			return
		}
		if room.full() {
			h.sendError(client, errRoomFull)
			return
		}

		room.add(client)
		client.RoomID = room.ID
		h.logger.Info("client joined room", "room", room.ID, "client", client.ID)

		if peer := room.other(client); peer != nil {
			h.send(peer, &signaling.Envelope{Type: signaling.EventPeerJoined, RoomID: room.ID})
		}
		h.send(client, &signaling.Envelope{Type: signaling.EventJoinSuccess, RoomID: room.ID})

	case signaling.EventOffer, signaling.EventAnswer, signaling.EventICECandidate:
		if peer, ok := h.peerOf(client); ok {
			h.send(peer, &signaling.Envelope{Type: env.Type, Payload: env.Payload, RoomID: client.RoomID})
		}

	case signaling.EventSendMessage:
		if peer, ok := h.peerOf(client); ok {
			h.send(peer, &signaling.Envelope{Type: signaling.EventReceiveMessage, Payload: env.Payload, RoomID: client.RoomID})
		}

	default:
		h.sendError(client, errUnknownEvent)
	}
}

// peerOf returns the other participant of client's room. It reports an error
// to client when it is not in a room; a missing peer is only logged.
func (h *Hub) peerOf(client *Client) (*Client, bool) {
	room, ok := h.rooms[client.RoomID]
	if !ok {
		h.sendError(client, errNotInRoom)
		return nil, false
	}

	peer := room.other(client)
	if peer == nil {
		client.logger.Debug("no peer to relay to", "room", room.ID)
		return nil, false
	}
	return peer, true
}

// send queues env without blocking the hub; a client that cannot keep up
// loses the envelope and the loss is counted.
func (h *Hub) send(client *Client, env *signaling.Envelope) {
	select {
	case client.Send <- env:
	default:
		total := h.dropped.Add(1)
		client.logger.Warn("send buffer full, dropping envelope", "type", env.Type, "dropped_total", total)
	}
}

// Dropped returns how many envelopes were lost to slow clients.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

func (h *Hub) sendError(client *Client, msg string) {
	payload, _ := json.Marshal(signaling.ErrorPayload{Error: msg})
	h.send(client, &signaling.Envelope{Type: signaling.EventError, Payload: payload})
}
