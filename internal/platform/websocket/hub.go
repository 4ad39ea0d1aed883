// Package websocket fans notification events out to browser clients. Clients
// join named rooms and receive every event published to those rooms.
package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 64
)

// Event is the frame pushed to clients.
type Event struct {
	Name      string          `json:"event"`
	Room      string          `json:"room"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// ClientMessage is an inbound frame from a client. Action is "join" or
// "leave"; "subscribe" and "unsubscribe" are accepted as aliases.
type ClientMessage struct {
	Action string   `json:"action"`
	Rooms  []string `json:"rooms"`
}

// Client represents a single WebSocket connection.
type Client struct {
	ID    string
	Rooms []string
	Send  chan []byte
}

func newClient(rooms []string) *Client {
	return &Client{
		ID:    uuid.NewString(),
		Rooms: rooms,
		Send:  make(chan []byte, sendBuffer),
	}
}

// Hub tracks clients and their room memberships. Safe for concurrent use.
type Hub struct {
	mu      sync.RWMutex
	rooms   map[string]map[*Client]struct{}
	all     map[*Client]struct{}
	dropped atomic.Int64
	logger  zerolog.Logger
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		rooms:  make(map[string]map[*Client]struct{}),
		all:    make(map[*Client]struct{}),
		logger: logger.With().Str("component", "ws-hub").Logger(),
	}
}

// Register adds a client to the hub and joins its initial rooms.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.all[client] = struct{}{}
	for _, room := range client.Rooms {
		h.joinLocked(client, room)
	}
}

// Unregister removes a client from every room and closes its Send channel.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.all[client]; !ok {
		return
	}
	for _, room := range client.Rooms {
		h.leaveLocked(client, room)
	}
	delete(h.all, client)
	close(client.Send)
}

// Join adds rooms to an already registered client.
func (h *Hub) Join(client *Client, rooms []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.all[client]; !ok {
		return
	}
	for _, room := range rooms {
		if room == "" || containsRoom(client.Rooms, room) {
			continue
		}
		h.joinLocked(client, room)
		client.Rooms = append(client.Rooms, room)
	}
}

// Leave removes rooms from an already registered client.
func (h *Hub) Leave(client *Client, rooms []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	remaining := client.Rooms[:0]
	for _, room := range client.Rooms {
		if containsRoom(rooms, room) {
			h.leaveLocked(client, room)
			continue
		}
		remaining = append(remaining, room)
	}
	client.Rooms = remaining
}

func (h *Hub) joinLocked(client *Client, room string) {
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[*Client]struct{})
	}
	h.rooms[room][client] = struct{}{}
}

func (h *Hub) leaveLocked(client *Client, room string) {
	if members, ok := h.rooms[room]; ok {
		delete(members, client)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

func containsRoom(rooms []string, room string) bool {
	for _, r := range rooms {
		if r == room {
			return true
		}
	}
	return false
}

// ProcessMessage dispatches an inbound ClientMessage.
func (h *Hub) ProcessMessage(client *Client, msg ClientMessage) {
	switch msg.Action {
	case "join", "subscribe":
		h.Join(client, msg.Rooms)
	case "leave", "unsubscribe":
		h.Leave(client, msg.Rooms)
	}
}

// Broadcast sends an event to every member of its room. Slow clients whose
// buffer is full miss the event rather than blocking the publisher.
func (h *Hub) Broadcast(event Event) int {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error().Err(err).Str("event", event.Name).Msg("marshal event")
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for client := range h.rooms[event.Room] {
		select {
		case client.Send <- data:
			delivered++
		default:
			h.dropped.Add(1)
		}
	}
	return delivered
}

// Emit wraps payload in an Event and broadcasts it to room.
func (h *Hub) Emit(_ context.Context, room, name string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	h.Broadcast(Event{Name: name, Room: room, Timestamp: time.Now().UTC(), Data: data})
	return nil
}

// ClientCount returns the total number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

// RoomCount returns the number of clients in room.
func (h *Hub) RoomCount(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Dropped returns how many deliveries were skipped because a client's
// buffer was full.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// Handler upgrades HTTP requests to WebSocket connections bound to a Hub.
type Handler struct {
	hub      *Hub
	upgrader gorillawebsocket.Upgrader
}

// NewHandler creates a handler. An empty allowedOrigins list accepts any
// origin; "*" does the same explicitly.
func NewHandler(hub *Hub, allowedOrigins []string) *Handler {
	return &Handler{
		hub: hub,
		upgrader: gorillawebsocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(allowed) == 0 {
			return true
		}
		for _, o := range allowed {
			o = strings.TrimSpace(o)
			if o == "*" || strings.EqualFold(o, origin) {
				return true
			}
		}
		return false
	}
}

// RegisterRoutes registers the WebSocket endpoint on the provided Echo group.
func (wh *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/ws", wh.HandleConnect)
}

// HandleConnect upgrades the connection, joins the rooms listed in the
// "rooms" query parameter and starts the read and write pumps.
func (wh *Handler) HandleConnect(c echo.Context) error {
	ws, err := wh.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade has already written an HTTP error response.
		return nil
	}

	var rooms []string
	for _, r := range strings.Split(c.QueryParam("rooms"), ",") {
		if r = strings.TrimSpace(r); r != "" && !containsRoom(rooms, r) {
			rooms = append(rooms, r)
		}
	}

	client := newClient(rooms)
	wh.hub.Register(client)
	wh.hub.logger.Debug().Str("client_id", client.ID).Strs("rooms", rooms).Msg("client connected")

	go wh.writePump(client, ws)
	go wh.readPump(client, ws)

	return nil
}

func (wh *Handler) readPump(client *Client, ws *gorillawebsocket.Conn) {
	defer func() {
		wh.hub.Unregister(client)
		ws.Close()
		wh.hub.logger.Debug().Str("client_id", client.ID).Msg("client disconnected")
	}()

	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg ClientMessage
		if err := ws.ReadJSON(&msg); err != nil {
			if _, ok := err.(*json.SyntaxError); ok {
				continue
			}
			return
		}
		wh.hub.ProcessMessage(client, msg)
	}
}

func (wh *Handler) writePump(client *Client, ws *gorillawebsocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = ws.WriteMessage(gorillawebsocket.CloseMessage, []byte{})
				return
			}
			if err := ws.WriteMessage(gorillawebsocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(gorillawebsocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
