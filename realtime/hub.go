package realtime

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Event types pushed to channel subscribers. Delivery is at-most-once and
// fire-and-forget; clients re-fetch canonical state over HTTP on reconnect.
const (
	EventRoomUpdated    = "ROOM_UPDATED"
	EventRoomStarted    = "ROOM_STARTED"
	EventRoomFinished   = "ROOM_FINISHED"
	EventRoomCancelled  = "ROOM_CANCELLED"
	EventGameState      = "GAME_STATE"
	EventBracketUpdated = "BRACKET_UPDATED"
)

type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
	Channel string      `json:"channel,omitempty"`
}

// RoomChannel names the fanout channel for a room.
func RoomChannel(roomID int) string {
	return fmt.Sprintf("room:%d", roomID)
}

// TournamentChannel names the fanout channel for a tournament bracket.
func TournamentChannel(tournamentID int) string {
	return fmt.Sprintf("tournament:%d", tournamentID)
}

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

type Client struct {
	Hub      *Hub
	Conn     *websocket.Conn
	Send     chan []byte
	Channel  string
	isClosed bool
	mu       sync.Mutex
}

type Hub struct {
	Register   chan *Client
	Unregister chan *Client
	channels   map[string]map[*Client]bool
	mu         sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		channels:   make(map[string]map[*Client]bool),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.Register:
			h.mu.Lock()
			if _, ok := h.channels[client.Channel]; !ok {
				h.channels[client.Channel] = make(map[*Client]bool)
			}
			h.channels[client.Channel][client] = true
			h.mu.Unlock()

		case client := <-h.Unregister:
			h.mu.Lock()
			if subscribers, ok := h.channels[client.Channel]; ok {
				if _, okClient := subscribers[client]; okClient {
					client.mu.Lock()
					if !client.isClosed {
						close(client.Send)
						client.isClosed = true
					}
					client.mu.Unlock()
					delete(subscribers, client)
					if len(subscribers) == 0 {
						delete(h.channels, client.Channel)
					}
				}
			}
			h.mu.Unlock()
		}
	}
}

// BroadcastToChannel sends a message to every subscriber of a channel. Slow
// subscribers are skipped rather than blocked on; the action log, not the
// socket, is the source of truth for ordering.
func (h *Hub) BroadcastToChannel(channel string, message interface{}) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	subscribers, ok := h.channels[channel]
	if !ok {
		return
	}

	messageBytes, err := json.Marshal(message)
	if err != nil {
		log.Printf("realtime: failed to marshal message for channel %s: %v", channel, err)
		return
	}

	for client := range subscribers {
		client.mu.Lock()
		if client.isClosed {
			client.mu.Unlock()
			continue
		}
		select {
		case client.Send <- messageBytes:
		default:
		}
		client.mu.Unlock()
	}
}

func (c *Client) ReadPump() {
	defer func() {
		c.Hub.Unregister <- c
		c.Conn.Close()
	}()
	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error { c.Conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		// Subscribers are read-only; inbound frames only keep the
		// connection alive.
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("realtime: unexpected close on channel %s: %v", c.Channel, err)
			}
			break
		}
	}
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			n := len(c.Send)
			for i := 0; i < n; i++ {
				w.Write(<-c.Send)
			}

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
