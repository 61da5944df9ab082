// Package sse implements a Server-Sent Events broker that fans pipeline
// notifications out to the application shell.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/starford/kitd/internal/models"
	"github.com/starford/kitd/internal/pipeline"
)

// Event types.
const (
	TypeScriptChanged  = "script.changed"
	TypeScriptRemoved  = "script.removed"
	TypeScriptsUpdated = "scripts.updated"
	TypeRunRequested   = "run.requested"
	TypeUserChanged    = "user.changed"
	TypeAppChanged     = "app.changed"
	TypeRescanned      = "dependents.rescanned"
)

// Event represents an SSE event to broadcast.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type scriptEventReq struct {
	kind    string
	path    string
	removed uint64
}

// Broker manages SSE client connections and broadcasts events.
//
// Concurrency model: a single internal event loop (goroutine) owns mutable state
// (clients + listing throttle timestamp). Public methods communicate with this loop
// through channels, so no mutexes are required.
type Broker struct {
	listMin time.Duration

	subscribeCh   chan chan []byte
	unsubscribeCh chan chan []byte
	publishCh     chan Event
	scriptEventCh chan scriptEventReq
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

var _ pipeline.Notifier = (*Broker)(nil)

// NewBroker creates a new SSE broker. listThrottle bounds how often
// scripts.updated is sent after script changes.
func NewBroker(listThrottle time.Duration) *Broker {
	if listThrottle <= 0 {
		listThrottle = 2 * time.Second
	}

	b := &Broker{
		listMin:       listThrottle,
		subscribeCh:   make(chan chan []byte),
		unsubscribeCh: make(chan chan []byte),
		publishCh:     make(chan Event, 256),
		scriptEventCh: make(chan scriptEventReq, 256),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}

	go b.run()
	return b
}

func (b *Broker) run() {
	defer close(b.stopped)

	clients := make(map[chan []byte]struct{})
	var lastList time.Time

	broadcast := func(event Event) {
		payload, err := json.Marshal(event.Data)
		if err != nil {
			return
		}
		msg := fmt.Sprintf("event: %s\ndata: %s\n\n", event.Type, payload)
		raw := []byte(msg)

		for ch := range clients {
			select {
			case ch <- raw:
			default:
				// Client buffer full; skip to avoid blocking broker loop.
			}
		}
	}

	for {
		select {
		case <-b.stopCh:
			for ch := range clients {
				close(ch)
			}
			return

		case ch := <-b.subscribeCh:
			clients[ch] = struct{}{}

		case ch := <-b.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}

		case event := <-b.publishCh:
			broadcast(event)

		case req := <-b.scriptEventCh:
			switch req.kind {
			case TypeScriptChanged:
				broadcast(Event{Type: TypeScriptChanged, Data: map[string]string{"path": req.path}})
			case TypeScriptRemoved:
				broadcast(Event{Type: TypeScriptRemoved, Data: map[string]any{"path": req.path, "removed": req.removed}})
			}

			now := time.Now()
			if now.Sub(lastList) >= b.listMin {
				lastList = now
				broadcast(Event{Type: TypeScriptsUpdated, Data: map[string]string{}})
			}

		case resp := <-b.countReqCh:
			resp <- len(clients)
		}
	}
}

// Close gracefully stops broker loop and closes all client channels.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe adds a new client and returns its channel.
func (b *Broker) Subscribe() chan []byte {
	ch := make(chan []byte, 64)
	if b.closed.Load() {
		close(ch)
		return ch
	}

	select {
	case b.subscribeCh <- ch:
	case <-b.stopped:
		close(ch)
	}

	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- ch:
	case <-b.stopped:
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}

	resp := make(chan int, 1)
	select {
	case b.countReqCh <- resp:
	case <-b.stopped:
		return 0
	}

	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// Publish sends an event to all connected clients.
func (b *Broker) Publish(event Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- event:
	case <-b.stopped:
	}
}

func (b *Broker) publishScriptEvent(req scriptEventReq) {
	if b.closed.Load() {
		return
	}
	select {
	case b.scriptEventCh <- req:
	case <-b.stopped:
	}
}

// ScriptChanged publishes script.changed and a throttled scripts.updated.
func (b *Broker) ScriptChanged(path string) {
	b.publishScriptEvent(scriptEventReq{kind: TypeScriptChanged, path: path})
}

// ScriptRemoved publishes script.removed with the running removal count and
// a throttled scripts.updated.
func (b *Broker) ScriptRemoved(path string, removed uint64) {
	b.publishScriptEvent(scriptEventReq{kind: TypeScriptRemoved, path: path, removed: removed})
}

// RunRequested publishes run.requested for the application shell.
func (b *Broker) RunRequested(req models.RunRequest) {
	b.Publish(Event{Type: TypeRunRequested, Data: req})
}

// UserChanged publishes the new user snapshot.
func (b *Broker) UserChanged(user pipeline.User) {
	b.Publish(Event{Type: TypeUserChanged, Data: user})
}

// AppConfigChanged publishes the merged application config.
func (b *Broker) AppConfigChanged(cfg pipeline.AppConfig) {
	b.Publish(Event{Type: TypeAppChanged, Data: cfg})
}

// Rescanned publishes the dependents found for a burst of changed scripts.
func (b *Broker) Rescanned(changed, dependents []string) {
	if len(dependents) == 0 {
		return
	}
	b.Publish(Event{Type: TypeRescanned, Data: map[string][]string{"changed": changed, "dependents": dependents}})
}

// ServeHTTP is the SSE endpoint handler (GET /api/events).
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
