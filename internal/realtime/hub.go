package realtime

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"govqueue/internal/store"
)

// TopicBoard carries full board snapshots. The other topics are table names.
const TopicBoard = "board"

// Subscription selects what a client receives. An empty topic receives
// everything; Off receives nothing.
type Subscription struct {
	Topic string
	Off   bool
}

type Client struct {
	ID           string
	Send         chan []byte
	Subscription Subscription
}

type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	logger  *zap.Logger
}

type SubscribeMessage struct {
	Action string `json:"action"`
	Table  string `json:"table"`
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{clients: make(map[string]*Client), logger: logger}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	delete(h.clients, client.ID)
	close(client.Send)
}

func (h *Hub) UpdateSubscription(client *Client, sub Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	client.Subscription = sub
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast never blocks; a client whose buffer is full misses the message.
func (h *Hub) Broadcast(payload []byte, topic string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		if !match(client.Subscription, topic) {
			continue
		}
		select {
		case client.Send <- payload:
		default:
			h.logger.Warn("drop message for slow client", zap.String("client_id", client.ID), zap.String("topic", topic))
		}
	}
}

func match(sub Subscription, topic string) bool {
	if sub.Off {
		return false
	}
	return sub.Topic == "" || sub.Topic == topic
}

// ParseSubscribe decodes a client control message. Valid tables are tokens,
// counters, board or empty for everything.
func ParseSubscribe(data []byte) (SubscribeMessage, bool) {
	var msg SubscribeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return SubscribeMessage{}, false
	}
	if msg.Action != "subscribe" && msg.Action != "unsubscribe" {
		return SubscribeMessage{}, false
	}
	if msg.Table != TopicBoard && !store.ValidTable(msg.Table) {
		return SubscribeMessage{}, false
	}
	return msg, true
}
