package broadcast

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/parcelwatch/parcelwatch/pkg/metrics"
	"github.com/parcelwatch/parcelwatch/pkg/model"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBufferSize = 64
)

// Hub is an in-process websocket room registry. Subscribers join
// delivery:<tracking code> rooms, operators join the admin room.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*Client]struct{}

	adminToken string
	metrics    *metrics.Metrics

	upgrader websocket.Upgrader
}

type Client struct {
	ID string

	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	rooms  map[string]struct{}
	closed bool
}

type clientCommand struct {
	Action string `json:"action"`
	Room   string `json:"room"`
	Token  string `json:"token"`
}

func NewHub(adminToken string, m *metrics.Metrics) *Hub {
	return &Hub{
		rooms:      map[string]map[*Client]struct{}{},
		adminToken: adminToken,
		metrics:    m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

func (h *Hub) Publish(deliveryID string, trackingCode string, eventType model.BroadcastType, payload interface{}) {
	data, err := Encode(deliveryID, trackingCode, eventType, payload)
	if err != nil {
		log.Error().Err(err).Str("delivery", deliveryID).Msg("Failed to encode broadcast")
		h.metrics.BroadcastFailed("websocket")
		return
	}

	h.Deliver(trackingCode, data)
	h.metrics.BroadcastPublished("websocket")
}

// Deliver sends an already encoded message to the delivery room and the admin room
func (h *Hub) Deliver(trackingCode string, data []byte) {
	h.broadcast(DeliveryRoom(trackingCode), data)
	h.broadcast(AdminRoom, data)
}

func (h *Hub) broadcast(room string, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.rooms[room] {
		select {
		case client.send <- data:
		default:
			log.Warn().Str("client", client.ID).Msg("Websocket client too slow, disconnecting")
			h.removeLocked(client)
		}
	}
}

func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.rooms[room])
}

func (h *Hub) join(client *Client, room string, token string) bool {
	if room == "" {
		return false
	}
	if room == AdminRoom && h.adminToken != "" && token != h.adminToken {
		return false
	}
	if room != AdminRoom && !strings.HasPrefix(room, "delivery:") {
		return false
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if client.closed {
		return false
	}

	if h.rooms[room] == nil {
		h.rooms[room] = map[*Client]struct{}{}
	}
	h.rooms[room][client] = struct{}{}
	client.rooms[room] = struct{}{}

	return true
}

func (h *Hub) leave(client *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.leaveLocked(client, room)
}

func (h *Hub) leaveLocked(client *Client, room string) {
	delete(client.rooms, room)

	if members, exists := h.rooms[room]; exists {
		delete(members, client)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.removeLocked(client)
}

func (h *Hub) removeLocked(client *Client) {
	if client.closed {
		return
	}

	for room := range client.rooms {
		h.leaveLocked(client, room)
	}
	client.closed = true
	close(client.send)

	h.metrics.WebsocketDisconnected()
}

// ServeWS upgrades the request and joins the rooms named by the tracking
// and admin_token query parameters
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Websocket upgrade failed")
		return
	}

	client := &Client{
		ID:    uuid.NewString(),
		hub:   h,
		conn:  conn,
		send:  make(chan []byte, sendBufferSize),
		rooms: map[string]struct{}{},
	}
	h.metrics.WebsocketConnected()

	if trackingCode := r.URL.Query().Get("tracking"); trackingCode != "" {
		h.join(client, DeliveryRoom(trackingCode), "")
	}
	if token := r.URL.Query().Get("admin_token"); token != "" {
		h.join(client, AdminRoom, token)
	}

	log.Debug().Str("client", client.ID).Msg("Websocket client connected")

	go client.writePump()
	go client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("client", c.ID).Msg("Websocket closed unexpectedly")
			}
			return
		}

		var command clientCommand
		if err := json.Unmarshal(data, &command); err != nil {
			continue
		}

		switch command.Action {
		case "join":
			if !c.hub.join(c, command.Room, command.Token) {
				log.Debug().Str("client", c.ID).Str("room", command.Room).Msg("Websocket join refused")
			}
		case "leave":
			c.hub.leave(c, command.Room)
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
