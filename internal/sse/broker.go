// Package sse streams board changes to browsers as Server-Sent Events.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"
)

// Event is one message on the stream.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// BoardChange describes a persisted board mutation.
type BoardChange struct {
	Kind        string         `json:"kind"`
	Records     int            `json:"records"`
	PerCategory map[string]int `json:"perCategory"`
}

// Broker fans events out to connected clients.
//
// One goroutine owns the client set and the board.updated throttle; the
// public methods talk to it over channels.
type Broker struct {
	updateMin time.Duration
	heartbeat time.Duration

	subscribeCh   chan chan []byte
	unsubscribeCh chan chan []byte
	publishCh     chan Event
	changeCh      chan BoardChange
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker starts a broker that emits board.updated at most once per
// updateThrottle.
func NewBroker(updateThrottle time.Duration) *Broker {
	if updateThrottle <= 0 {
		updateThrottle = 2 * time.Second
	}

	b := &Broker{
		updateMin:     updateThrottle,
		heartbeat:     25 * time.Second,
		subscribeCh:   make(chan chan []byte),
		unsubscribeCh: make(chan chan []byte),
		publishCh:     make(chan Event, 256),
		changeCh:      make(chan BoardChange, 256),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}

	go b.run()
	return b
}

// frame renders one SSE message. seq becomes the id: line so clients can
// tell whether they missed events across a reconnect.
func frame(seq uint64, event Event) ([]byte, error) {
	payload, err := json.Marshal(event.Data)
	if err != nil {
		return nil, err
	}
	return fmt.Appendf(nil, "id: %d\nevent: %s\ndata: %s\n\n", seq, event.Type, payload), nil
}

func (b *Broker) run() {
	defer close(b.stopped)

	clients := make(map[chan []byte]struct{})
	var seq uint64

	// board.updated is rate limited: the first change in a window is
	// announced at once, later ones collapse into one trailing update.
	var (
		lastUpdate time.Time
		trailing   *BoardChange
		flush      <-chan time.Time
	)

	broadcast := func(event Event) {
		seq++
		raw, err := frame(seq, event)
		if err != nil {
			return
		}
		for ch := range clients {
			select {
			case ch <- raw:
			default:
				// slow client, drop
			}
		}
	}
	announce := func(change BoardChange) {
		lastUpdate = time.Now()
		broadcast(Event{Type: "board.updated", Data: map[string]int{"records": change.Records}})
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

		case change := <-b.changeCh:
			broadcast(Event{Type: "board." + change.Kind, Data: change})
			if since := time.Since(lastUpdate); since >= b.updateMin && flush == nil {
				announce(change)
			} else {
				trailing = &change
				if flush == nil {
					flush = time.After(b.updateMin - since)
				}
			}

		case <-flush:
			flush = nil
			if trailing != nil {
				announce(*trailing)
				trailing = nil
			}

		case resp := <-b.countReqCh:
			resp <- len(clients)
		}
	}
}

// Close stops the loop and closes every client channel.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe registers a client.
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

// Publish sends an arbitrary event to all clients.
func (b *Broker) Publish(event Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- event:
	case <-b.stopped:
	}
}

// PublishBoardChange emits board.<kind> followed by a throttled board.updated.
func (b *Broker) PublishBoardChange(change BoardChange) {
	if b.closed.Load() {
		return
	}
	select {
	case b.changeCh <- change:
	case <-b.stopped:
	}
}

// ServeHTTP is the GET /api/events handler.
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
