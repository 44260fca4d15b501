package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/AltoxaM/devrun/internal/metrics"
	"github.com/google/uuid"
)

// Heartbeat is how often an idle reload stream gets a comment line, which
// keeps proxies from timing it out and surfaces dead connections.
var Heartbeat = 30 * time.Second

// ClientBuffer is how many undelivered messages a client may have before it
// is considered stuck and pruned.
var ClientBuffer = 8

// A Client is one open reload stream to one browser.
type Client struct {
	ID          string
	RemoteAddr  string
	ConnectedAt time.Time

	ch   chan message
	done chan struct{}
}

type message struct {
	event string
	data  any
}

// hub owns the set of connected clients. Connects and disconnects both
// happen on request goroutines, so the set is guarded by mu.
type hub struct {
	logger   *slog.Logger
	recorder metrics.Recorder

	mu        sync.Mutex
	clients   map[string]*Client
	onConnect []func(*Client)
	closed    bool
}

func newHub(logger *slog.Logger, recorder metrics.Recorder) *hub {
	return &hub{
		logger:   logger,
		recorder: recorder,
		clients:  map[string]*Client{},
	}
}

// ServeHTTP implements the reload channel endpoint.
func (h *hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	client := &Client{
		ID:          uuid.NewString(),
		RemoteAddr:  r.RemoteAddr,
		ConnectedAt: time.Now(),
		ch:          make(chan message, ClientBuffer),
		done:        make(chan struct{}),
	}
	callbacks, ok := h.add(client)
	if !ok {
		http.Error(w, "live reload shutting down", http.StatusServiceUnavailable)
		return
	}
	defer h.remove(client.ID, "disconnected")

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	if _, err := fmt.Fprintf(w, "event: connected\ndata: %q\n\n", client.ID); err != nil {
		return
	}
	flusher.Flush()

	for _, fn := range callbacks {
		fn(client)
	}

	hb := time.NewTicker(Heartbeat)
	defer hb.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-client.done:
			return
		case <-hb.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				h.logger.Debug("reload ping write", "client", client.ID, "error", err)
				return
			}
			flusher.Flush()
		case msg := <-client.ch:
			if err := writeEvent(w, msg); err != nil {
				h.logger.Debug("reload write", "client", client.ID, "error", err)
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, msg message) error {
	data, err := json.Marshal(msg.data)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.event, data)
	return err
}

func (h *hub) add(c *Client) ([]func(*Client), bool) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, false
	}
	h.clients[c.ID] = c
	n := len(h.clients)
	callbacks := append([]func(*Client){}, h.onConnect...)
	h.mu.Unlock()

	h.recorder.SetClients(n)
	h.logger.Info("client connected", "client", c.ID, "remote", c.RemoteAddr, "clients", n)
	return callbacks, true
}

// remove is idempotent: a client may be pruned by a broadcast and then
// disconnect.
func (h *hub) remove(id string, reason string) {
	h.mu.Lock()
	c, ok := h.clients[id]
	if ok {
		delete(h.clients, id)
		close(c.done)
	}
	n := len(h.clients)
	h.mu.Unlock()

	if !ok {
		return
	}
	h.recorder.SetClients(n)
	h.logger.Info("client "+reason, "client", id, "connected_for", time.Since(c.ConnectedAt).Round(time.Millisecond), "clients", n)
}

// broadcast is fire-and-forget: clients that can't take the message now are
// pruned rather than waited for.
func (h *hub) broadcast(msg message) int {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return 0
	}
	snapshot := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		snapshot = append(snapshot, c)
	}
	h.mu.Unlock()

	sent, dropped := 0, 0
	for _, c := range snapshot {
		// A client closed since the snapshot must not be counted, and select
		// picks at random between ready cases.
		select {
		case <-c.done:
			continue
		default:
		}
		select {
		case c.ch <- msg:
			sent++
		case <-c.done:
		default:
			dropped++
			h.remove(c.ID, "dropped")
		}
	}
	h.recorder.IncBroadcast(msg.event)
	if dropped > 0 {
		h.recorder.IncDroppedClients(dropped)
	}
	h.logger.Debug("broadcast", "event", msg.event, "clients", sent, "dropped", dropped)
	return sent
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *hub) connected(fn func(*Client)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onConnect = append(h.onConnect, fn)
}

// shutdown closes every client and refuses new ones.
func (h *hub) shutdown() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	clients := h.clients
	h.clients = map[string]*Client{}
	h.mu.Unlock()

	for _, c := range clients {
		close(c.done)
	}
	h.recorder.SetClients(0)
	if len(clients) > 0 {
		h.logger.Info("closed reload clients", "clients", len(clients))
	}
}
