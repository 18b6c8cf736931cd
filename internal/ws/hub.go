// Package ws pushes contribution lifecycle updates to connected clients.
// Clients join rooms (their own user room, plus the reviewer room for
// moderators); with Redis configured, messages fan out across instances.
package ws

import (
	"context"
	"encoding/json"
	"sync"

	pkglogger "github.com/damoang/angple-contrib/pkg/logger"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const redisFeedChannel = "contribution-feed"

// ReviewerRoom receives every lifecycle update
const ReviewerRoom = "reviewers"

// UserRoom is the room of a single user
func UserRoom(userID string) string { return "user:" + userID }

// Message is one frame sent to clients
type Message struct {
	Type    string      `json:"type"` // contribution.submitted, contribution.approved, ...
	Payload interface{} `json:"payload"`
}

type roomMessage struct {
	Origin  string   `json:"origin"`
	Room    string   `json:"room"`
	Message *Message `json:"message"`
}

// Hub manages WebSocket clients and broadcasts messages to rooms
type Hub struct {
	rooms map[string]map[*Client]struct{}

	register   chan *Client
	unregister chan *Client
	broadcast  chan *roomMessage

	mu          sync.RWMutex
	instanceID  string
	redisClient *redis.Client
	ctx         context.Context
	cancel      context.CancelFunc
}

// NewHub creates a new Hub. redisClient may be nil.
func NewHub(redisClient *redis.Client) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		rooms:       make(map[string]map[*Client]struct{}),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		broadcast:   make(chan *roomMessage, 256),
		instanceID:  uuid.New().String(),
		redisClient: redisClient,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.ctx.Done():
		client.conn.Close()
	}
}

func (h *Hub) remove(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.ctx.Done():
	}
}

// Run starts the hub's main loop; it returns after Stop
func (h *Hub) Run() {
	if h.redisClient != nil {
		go h.subscribeRedis()
	}

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			for _, room := range client.rooms {
				if h.rooms[room] == nil {
					h.rooms[room] = make(map[*Client]struct{})
				}
				h.rooms[room][client] = struct{}{}
			}
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			h.dropLocked(client)
			h.mu.Unlock()

		case msg := <-h.broadcast:
			data, err := json.Marshal(msg.Message)
			if err != nil {
				continue
			}
			h.mu.Lock()
			for client := range h.rooms[msg.Room] {
				select {
				case client.send <- data:
				default:
					// 느린 클라이언트는 끊는다
					h.dropLocked(client)
				}
			}
			h.mu.Unlock()

		case <-h.ctx.Done():
			return
		}
	}
}

// dropLocked removes client from all rooms and closes its send queue once
func (h *Hub) dropLocked(client *Client) {
	for _, room := range client.rooms {
		if clients, ok := h.rooms[room]; ok {
			delete(clients, client)
			if len(clients) == 0 {
				delete(h.rooms, room)
			}
		}
	}
	if !client.closed {
		client.closed = true
		close(client.send)
	}
}

// Publish sends msg to every client in room, locally and via Redis
func (h *Hub) Publish(room string, msg *Message) {
	h.local(&roomMessage{Origin: h.instanceID, Room: room, Message: msg})

	if h.redisClient != nil {
		data, err := json.Marshal(&roomMessage{Origin: h.instanceID, Room: room, Message: msg})
		if err != nil {
			return
		}
		if err := h.redisClient.Publish(h.ctx, redisFeedChannel, data).Err(); err != nil {
			pkglogger.GetLogger().Warn().Err(err).Str("room", room).Msg("feed publish to redis failed")
		}
	}
}

func (h *Hub) local(msg *roomMessage) {
	select {
	case h.broadcast <- msg:
	case <-h.ctx.Done():
	}
}

// Connected returns the number of clients in room
func (h *Hub) Connected(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// subscribeRedis relays messages published by other instances
func (h *Hub) subscribeRedis() {
	pubsub := h.redisClient.Subscribe(h.ctx, redisFeedChannel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var rm roomMessage
			if err := json.Unmarshal([]byte(msg.Payload), &rm); err != nil {
				continue
			}
			if rm.Origin == h.instanceID {
				continue
			}
			h.local(&rm)
		case <-h.ctx.Done():
			return
		}
	}
}

// Stop gracefully shuts down the hub
func (h *Hub) Stop() {
	h.cancel()
}
