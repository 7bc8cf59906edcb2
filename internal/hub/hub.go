package hub

import (
	"encoding/json"
	"expvar"
	"log"
	"sync"
)

var messagesDropped = expvar.NewInt("display_messages_dropped_total")

// Subscription narrows a display client to one counter. Zero means every
// counter.
type Subscription struct {
	CounterID int
}

type Client struct {
	ID           string
	Send         chan []byte
	Subscription Subscription
}

type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

type SubscribeMessage struct {
	Action    string `json:"action"`
	CounterID int    `json:"counter_id"`
}

func New() *Hub {
	return &Hub{clients: make(map[string]*Client)}
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

// Broadcast never blocks; slow clients miss messages.
func (h *Hub) Broadcast(payload []byte, counterID int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		if !match(client.Subscription, counterID) {
			continue
		}
		select {
		case client.Send <- payload:
		default:
			messagesDropped.Add(1)
			log.Printf("drop message for client %s", client.ID)
		}
	}
}

func match(sub Subscription, counterID int) bool {
	return sub.CounterID == 0 || sub.CounterID == counterID
}

func ParseSubscribe(data []byte) (SubscribeMessage, bool) {
	var msg SubscribeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return SubscribeMessage{}, false
	}
	if msg.Action != "subscribe" && msg.Action != "unsubscribe" {
		return SubscribeMessage{}, false
	}
	if msg.CounterID < 0 {
		return SubscribeMessage{}, false
	}
	return msg, true
}
