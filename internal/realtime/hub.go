package realtime

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/panelapp-backend/internal/platform/logger"
)

type Event string

const (
	EventJobCreated  Event = "JobCreated"
	EventJobProgress Event = "JobProgress"
	EventJobFailed   Event = "JobFailed"
	EventJobDone     Event = "JobDone"

	EventReleasePlanImported Event = "ReleasePlanImported"
	EventDeploymentRequested Event = "ReleaseDeploymentRequested"
	EventDeploymentStarted   Event = "ReleaseDeploymentStarted"
	EventDeploymentFinished  Event = "ReleaseDeploymentFinished"
	EventPanelVersionCreated Event = "PanelVersionCreated"
)

// Channels every stream may subscribe to.
const (
	ChannelReleases = "releases"
	ChannelPanels   = "panels"
	ChannelJobs     = "jobs"
)

func ReleaseChannel(releaseID uint) string {
	return fmt.Sprintf("release:%d", releaseID)
}

type Message struct {
	Channel string `json:"channel"`
	Event   Event  `json:"event"`
	Data    any    `json:"data,omitempty"`
}

type Client struct {
	ID       uuid.UUID
	Channels map[string]bool
	Outbound chan Message
	done     chan struct{}
	log      *logger.Logger
}

// Hub fans messages out to the SSE clients subscribed to their channel.
type Hub struct {
	mu            sync.RWMutex
	log           *logger.Logger
	subscriptions map[string]map[*Client]bool
}

func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		log:           log.With("component", "RealtimeHub"),
		subscriptions: make(map[string]map[*Client]bool),
	}
}

func (h *Hub) NewClient() *Client {
	id := uuid.New()
	return &Client{
		ID:       id,
		Channels: make(map[string]bool),
		Outbound: make(chan Message, 32),
		done:     make(chan struct{}),
		log:      h.log.With("client_id", id.String()),
	}
}

func (h *Hub) AddChannel(c *Client, channel string) {
	channel = strings.TrimSpace(channel)
	if channel == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	c.Channels[channel] = true
	clients, ok := h.subscriptions[channel]
	if !ok {
		clients = make(map[*Client]bool)
		h.subscriptions[channel] = clients
	}
	clients[c] = true
	h.log.Debug("client subscribed", "client_id", c.ID, "channel", channel)
}

func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range c.Channels {
		if subs, ok := h.subscriptions[ch]; ok {
			delete(subs, c)
			if len(subs) == 0 {
				delete(h.subscriptions, ch)
			}
		}
	}
	c.Channels = make(map[string]bool)
}

// Broadcast never blocks; a client with a full buffer misses the message.
func (h *Hub) Broadcast(msg Message) {
	if msg.Channel == "" {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.subscriptions[msg.Channel] {
		select {
		case c.Outbound <- msg:
		default:
			h.log.Warn("dropping realtime message; outbound buffer full", "client_id", c.ID, "event", msg.Event)
		}
	}
}

func (h *Hub) CloseClient(c *Client) {
	close(c.done)
	h.RemoveClient(c)
	close(c.Outbound)
}

// Serve streams c's messages as server-sent events until the request ends.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, c *Client) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-c.done:
			return
		case <-heartbeat.C:
			_, _ = fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case msg, ok := <-c.Outbound:
			if !ok {
				return
			}
			raw, err := json.Marshal(msg)
			if err != nil {
				c.log.Warn("failed to marshal realtime message", "error", err)
				continue
			}
			_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Event, raw)
			flusher.Flush()
		}
	}
}
