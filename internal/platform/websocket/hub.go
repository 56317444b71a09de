// Package websocket pushes domain events to connected clients. Clients are
// subscribed to topics scoped to their identity and receive every event
// published to those topics.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/pws/pws/internal/platform/apperr"
	"github.com/pws/pws/internal/platform/auth"
	"github.com/pws/pws/internal/platform/events"
)

// ClientMessage is an inbound message from a WebSocket client.
type ClientMessage struct {
	Action string   `json:"action"`
	Topics []string `json:"topics"`
}

// ServerMessage is a control message sent to a client.
type ServerMessage struct {
	Type    string   `json:"type"`
	Message string   `json:"message,omitempty"`
	Topics  []string `json:"topics,omitempty"`
}

// Client is a single WebSocket connection.
type Client struct {
	ID       string
	Topics   []string
	Send     chan []byte
	Identity *auth.Identity
}

// CanSubscribe reports whether id may receive events on topic. Anonymous
// clients may not subscribe to anything. Admins may subscribe to any topic.
func CanSubscribe(id *auth.Identity, topic string) bool {
	if id == nil {
		return false
	}
	if id.IsAdmin() {
		return true
	}
	if topic == events.UserTopic(id.ID) {
		return true
	}
	return id.Role == auth.RoleDoctor && id.DoctorID != nil && topic == events.DoctorTopic(*id.DoctorID)
}

// DefaultTopics returns the topics a client is subscribed to on connect.
func DefaultTopics(id *auth.Identity) []string {
	if id == nil {
		return nil
	}
	topics := []string{events.UserTopic(id.ID)}
	if id.DoctorID != nil {
		topics = append(topics, events.DoctorTopic(*id.DoctorID))
	}
	return topics
}

// Hub tracks clients and their topic subscriptions. It is safe for
// concurrent use and implements events.Publisher.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{} // topic -> subscribers
	all     map[*Client]struct{}
	logger  zerolog.Logger
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
		all:     make(map[*Client]struct{}),
		logger:  logger.With().Str("component", "ws-hub").Logger(),
	}
}

// Register adds a client and subscribes it to its initial topics.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.all[client] = struct{}{}
	for _, topic := range client.Topics {
		h.addLocked(topic, client)
	}
}

// Unregister removes a client from every topic and closes its Send channel.
// Unregistering twice is a no-op.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.all[client]; !ok {
		return
	}
	for _, topic := range client.Topics {
		h.removeLocked(topic, client)
	}
	delete(h.all, client)
	close(client.Send)
}

func (h *Hub) addLocked(topic string, client *Client) {
	if h.clients[topic] == nil {
		h.clients[topic] = make(map[*Client]struct{})
	}
	h.clients[topic][client] = struct{}{}
}

func (h *Hub) removeLocked(topic string, client *Client) {
	if subscribers, ok := h.clients[topic]; ok {
		delete(subscribers, client)
		if len(subscribers) == 0 {
			delete(h.clients, topic)
		}
	}
}

// Subscribe adds the topics the client is allowed to see and returns the
// ones that were refused.
func (h *Hub) Subscribe(client *Client, topics []string) (denied []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, topic := range topics {
		if !CanSubscribe(client.Identity, topic) {
			denied = append(denied, topic)
			continue
		}
		if _, already := h.clients[topic][client]; already {
			continue
		}
		h.addLocked(topic, client)
		client.Topics = append(client.Topics, topic)
	}
	return denied
}

// Unsubscribe removes topics from a registered client.
func (h *Hub) Unsubscribe(client *Client, topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	removeSet := make(map[string]struct{}, len(topics))
	for _, t := range topics {
		removeSet[t] = struct{}{}
		h.removeLocked(t, client)
	}

	remaining := make([]string, 0, len(client.Topics))
	for _, t := range client.Topics {
		if _, rm := removeSet[t]; !rm {
			remaining = append(remaining, t)
		}
	}
	client.Topics = remaining
}

// ProcessMessage applies an inbound message and returns the reply for the client.
func (h *Hub) ProcessMessage(client *Client, msg ClientMessage) ServerMessage {
	switch msg.Action {
	case "subscribe":
		if denied := h.Subscribe(client, msg.Topics); len(denied) > 0 {
			return ServerMessage{Type: "error", Message: "topic not allowed", Topics: denied}
		}
		return ServerMessage{Type: "subscribed", Topics: msg.Topics}
	case "unsubscribe":
		h.Unsubscribe(client, msg.Topics)
		return ServerMessage{Type: "unsubscribed", Topics: msg.Topics}
	default:
		return ServerMessage{Type: "error", Message: "unknown action"}
	}
}

// Broadcast sends event to every subscriber of topic. Slow clients whose
// buffer is full miss the event.
func (h *Hub) Broadcast(topic string, event events.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error().Err(err).Str("type", event.Type).Msg("marshal event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients[topic] {
		select {
		case client.Send <- data:
		default:
			h.logger.Warn().Str("client", client.ID).Str("topic", topic).Msg("client buffer full, event skipped")
		}
	}
}

// Publish implements events.Publisher.
func (h *Hub) Publish(_ context.Context, event events.Event) error {
	h.Broadcast(event.Topic, event)
	return nil
}

// Revalidate reloads the identity of every authenticated client and
// disconnects those whose account is gone or inactive, or whose role or
// doctor profile changed. Other load errors leave the client connected.
// It returns the number of clients dropped.
func (h *Hub) Revalidate(ctx context.Context, loader auth.IdentityLoader) int {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.all))
	for c := range h.all {
		if c.Identity != nil {
			clients = append(clients, c)
		}
	}
	h.mu.RUnlock()

	dropped := 0
	for _, c := range clients {
		if !h.revalidate(ctx, loader, c) {
			dropped++
		}
	}
	return dropped
}

// revalidate reports whether client may stay connected, unregistering it
// otherwise.
func (h *Hub) revalidate(ctx context.Context, loader auth.IdentityLoader, client *Client) bool {
	if client.Identity == nil {
		return true
	}
	current, err := loader.LoadIdentity(ctx, client.Identity.ID)
	switch {
	case errors.Is(err, apperr.ErrUnauthenticated):
	case err != nil:
		h.logger.Warn().Err(err).Str("client", client.ID).Msg("identity reload failed")
		return true
	case sameGrant(*client.Identity, current):
		return true
	}
	h.logger.Info().Str("client", client.ID).Str("user_id", client.Identity.ID.String()).Msg("session revoked, disconnecting")
	h.Unregister(client)
	return false
}

func sameGrant(a, b auth.Identity) bool {
	if a.Role != b.Role {
		return false
	}
	if a.DoctorID == nil || b.DoctorID == nil {
		return a.DoctorID == nil && b.DoctorID == nil
	}
	return *a.DoctorID == *b.DoctorID
}

// RunRevalidation calls Revalidate every interval until ctx is done.
func (h *Hub) RunRevalidation(ctx context.Context, loader auth.IdentityLoader, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := h.Revalidate(ctx, loader); n > 0 {
				h.logger.Info().Int("dropped", n).Msg("revalidated clients")
			}
		}
	}
}

// Shutdown disconnects every client.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.all {
		close(client.Send)
	}
	h.all = make(map[*Client]struct{})
	h.clients = make(map[string]map[*Client]struct{})
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

// TopicCount returns the number of clients subscribed to topic.
func (h *Hub) TopicCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[topic])
}
