// Package sse implements a Server-Sent Events broker for asset changes.
//
// Every message carries an increasing id. The broker keeps the most recent
// messages so a reconnecting client that sends Last-Event-ID receives what it
// missed, and a client may restrict the stream to one character with
// ?character=namespace/name.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"
)

const (
	defaultHistory   = 128
	defaultHeartbeat = 15 * time.Second
	clientBuffer     = 64
)

// Event represents an SSE event to broadcast to every client.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// AssetEvent is a change in a character directory. Kind is one of the
// asset.* kinds, "intake.added" or "sync.completed".
type AssetEvent struct {
	Kind      string `json:"-"`
	Character string `json:"character,omitempty"`
	Name      string `json:"name,omitempty"`
	From      string `json:"from,omitempty"`
}

// kindSyncCompleted events are throttled per character.
const kindSyncCompleted = "sync.completed"

// message is one encoded frame plus what clients filter on.
type message struct {
	id        uint64
	character string
	raw       []byte
}

type subscription struct {
	ch        chan []byte
	character string
	lastID    uint64
}

// Option configures a Broker.
type Option func(*Broker)

// WithHistory sets how many messages are kept for Last-Event-ID replay.
func WithHistory(n int) Option {
	return func(b *Broker) {
		if n >= 0 {
			b.history = n
		}
	}
}

// WithHeartbeat sets the interval of keep-alive comments on open streams.
func WithHeartbeat(d time.Duration) Option {
	return func(b *Broker) {
		if d > 0 {
			b.heartbeat = d
		}
	}
}

// Broker manages SSE client connections and broadcasts events.
//
// Concurrency model: a single internal event loop (goroutine) owns mutable state
// (clients, replay history, per-character sync throttle timestamps). Public
// methods communicate with this loop through channels, so no mutexes are required.
type Broker struct {
	syncMin   time.Duration
	history   int
	heartbeat time.Duration

	subscribeCh   chan subscription
	unsubscribeCh chan chan []byte
	publishCh     chan Event
	assetEventCh  chan AssetEvent
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker creates a new SSE broker. sync.completed events for the same
// character are sent at most once per syncThrottle.
func NewBroker(syncThrottle time.Duration, opts ...Option) *Broker {
	if syncThrottle <= 0 {
		syncThrottle = 2 * time.Second
	}

	b := &Broker{
		syncMin:       syncThrottle,
		history:       defaultHistory,
		heartbeat:     defaultHeartbeat,
		subscribeCh:   make(chan subscription),
		unsubscribeCh: make(chan chan []byte),
		publishCh:     make(chan Event, 256),
		assetEventCh:  make(chan AssetEvent, 256),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}

	go b.run()
	return b
}

func (b *Broker) run() {
	defer close(b.stopped)

	clients := make(map[chan []byte]string) // channel -> character filter
	lastSync := make(map[string]time.Time)
	var (
		nextID uint64
		recent []message
	)

	// send never blocks: a client whose buffer is full misses the frame and
	// can catch up through Last-Event-ID on reconnect.
	send := func(ch chan []byte, filter string, m message) {
		if filter != "" && m.character != "" && filter != m.character {
			return
		}
		select {
		case ch <- m.raw:
		default:
		}
	}

	broadcast := func(typ, character string, data any) {
		payload, err := json.Marshal(data)
		if err != nil {
			return
		}
		nextID++
		m := message{
			id:        nextID,
			character: character,
			raw:       []byte(fmt.Sprintf("id: %d\nevent: %s\ndata: %s\n\n", nextID, typ, payload)),
		}
		if b.history > 0 {
			recent = append(recent, m)
			if len(recent) > b.history {
				recent = recent[len(recent)-b.history:]
			}
		}
		for ch, filter := range clients {
			send(ch, filter, m)
		}
	}

	for {
		select {
		case <-b.stopCh:
			for ch := range clients {
				close(ch)
			}
			return

		case sub := <-b.subscribeCh:
			clients[sub.ch] = sub.character
			if sub.lastID > 0 {
				for _, m := range recent {
					if m.id > sub.lastID {
						send(sub.ch, sub.character, m)
					}
				}
			}

		case ch := <-b.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}

		case event := <-b.publishCh:
			broadcast(event.Type, "", event.Data)

		case ev := <-b.assetEventCh:
			if ev.Kind == kindSyncCompleted {
				now := time.Now()
				if now.Sub(lastSync[ev.Character]) < b.syncMin {
					continue
				}
				lastSync[ev.Character] = now
			}
			broadcast(ev.Kind, ev.Character, ev)

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

// Subscribe adds a client and returns its channel. A non-empty character
// limits the client to that character's events plus global ones. With
// lastID > 0 the retained messages after lastID are replayed first.
func (b *Broker) Subscribe(character string, lastID uint64) chan []byte {
	ch := make(chan []byte, clientBuffer)
	if b.closed.Load() {
		close(ch)
		return ch
	}

	select {
	case b.subscribeCh <- subscription{ch: ch, character: character, lastID: lastID}:
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

// PublishAssetEvent publishes an asset change. sync.completed is throttled.
func (b *Broker) PublishAssetEvent(ev AssetEvent) {
	if b.closed.Load() {
		return
	}
	select {
	case b.assetEventCh <- ev:
	case <-b.stopped:
	}
}

// ServeHTTP is the SSE endpoint handler (GET /api/events).
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	lastID, _ := strconv.ParseUint(r.Header.Get("Last-Event-ID"), 10, 64)
	character := r.URL.Query().Get("character")

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.Subscribe(character, lastID)
	defer b.Unsubscribe(ch)

	ping := time.NewTicker(b.heartbeat)
	defer ping.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			_, _ = w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
