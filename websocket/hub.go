// Package websocket streams live tally updates to subscribers of an
// election, over websocket connections or any channel-based subscriber.
package websocket

import (
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"campus-election-backend/metrics"
	"campus-election-backend/models"
)

const (
	MessageTally  = "tally_update"
	MessageStatus = "status_change"
	MessageOther  = "update"
)

// Client is one subscriber of an election. conn is nil for subscribers
// that read send themselves.
type Client struct {
	ElectionID uint

	conn *websocket.Conn
	send chan []byte
}

// Hub keeps the subscribers of every election and fans messages out to
// them. A subscriber whose buffer is full is dropped.
type Hub struct {
	clients    map[uint]map[*Client]bool
	register   chan *Client
	unregister chan *Client
	stop       chan struct{}
	stopOnce   sync.Once
	mu         sync.RWMutex
	logger     *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients:    make(map[uint]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stop:       make(chan struct{}),
		logger:     logger,
	}
}

// Run processes registrations until Stop is called.
func (h *Hub) Run() {
	for {
		select {
		case <-h.stop:
			h.closeAll()
			return
		case client := <-h.register:
			h.mu.Lock()
			if _, ok := h.clients[client.ElectionID]; !ok {
				h.clients[client.ElectionID] = make(map[*Client]bool)
			}
			h.clients[client.ElectionID][client] = true
			n := len(h.clients[client.ElectionID])
			h.mu.Unlock()
			metrics.WebsocketClients.Inc()
			h.logger.Debug("subscriber registered", zap.Uint("election_id", client.ElectionID), zap.Int("subscribers", n))
		case client := <-h.unregister:
			h.mu.Lock()
			h.removeLocked(client)
			h.mu.Unlock()
		}
	}
}

func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
}

// removeLocked drops client if it is still registered. h.mu must be held.
func (h *Hub) removeLocked(client *Client) {
	set, ok := h.clients[client.ElectionID]
	if !ok || !set[client] {
		return
	}
	delete(set, client)
	close(client.send)
	if len(set) == 0 {
		delete(h.clients, client.ElectionID)
	}
	metrics.WebsocketClients.Dec()
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, set := range h.clients {
		for client := range set {
			h.removeLocked(client)
		}
	}
}

// BroadcastTally sends payload to every subscriber of electionID.
func (h *Hub) BroadcastTally(electionID uint, payload interface{}) {
	msg := &models.WebSocketMessage{
		Type:       messageType(payload),
		ElectionID: electionID,
		Payload:    payload,
	}
	data, err := msg.ToJSON()
	if err != nil {
		h.logger.Warn("encode broadcast failed", zap.Uint("election_id", electionID), zap.Error(err))
		return
	}

	// send channels are only closed under the write lock
	var slow []*Client
	h.mu.RLock()
	for client := range h.clients[electionID] {
		select {
		case client.send <- data:
		default:
			slow = append(slow, client)
		}
	}
	h.mu.RUnlock()

	if len(slow) > 0 {
		h.mu.Lock()
		for _, client := range slow {
			h.removeLocked(client)
		}
		h.mu.Unlock()
		h.logger.Info("dropped slow subscribers", zap.Uint("election_id", electionID), zap.Int("count", len(slow)))
	}
}

func messageType(payload interface{}) string {
	switch payload.(type) {
	case models.TallyUpdate, *models.TallyUpdate:
		return MessageTally
	case models.StatusChange, *models.StatusChange:
		return MessageStatus
	default:
		return MessageOther
	}
}

// Subscribe registers a channel subscriber. The returned cancel func must
// be called once the subscriber is done; the channel is closed after it.
func (h *Hub) Subscribe(electionID uint) (<-chan []byte, func()) {
	client := &Client{ElectionID: electionID, send: make(chan []byte, 64)}
	h.RegisterClient(client)
	var once sync.Once
	return client.send, func() {
		once.Do(func() { h.UnregisterClient(client) })
	}
}

// Subscribers returns the number of live subscribers of electionID.
func (h *Hub) Subscribers(electionID uint) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[electionID])
}

func (h *Hub) RegisterClient(client *Client) {
	select {
	case h.register <- client:
	case <-h.stop:
		close(client.send)
	}
}

func (h *Hub) UnregisterClient(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.stop:
	}
}
