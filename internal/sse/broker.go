// Package sse streams generation run updates to browsers and editors as
// Server-Sent Events.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"
)

// EventModelsChanged is broadcast, throttled, after a run that rewrote at
// least one output file.
const EventModelsChanged = "models.changed"

const (
	defaultChangedThrottle = 2 * time.Second
	defaultKeepAlive       = 15 * time.Second
	defaultReplay          = 32
	clientBuffer           = 64
)

// Event is one message on the stream.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// writeCounter is implemented by run results that know how many output
// files they changed.
type writeCounter interface {
	Written() int
}

// frame is an encoded event with its stream position.
type frame struct {
	id  int64
	raw []byte
}

type subscribeReq struct {
	ch     chan []byte
	lastID int64
}

// Option configures a Broker.
type Option func(*Broker)

// WithChangedThrottle sets the minimum gap between two models.changed events.
func WithChangedThrottle(d time.Duration) Option {
	return func(b *Broker) {
		if d > 0 {
			b.changedMin = d
		}
	}
}

// WithKeepAlive sets how often idle streams receive a comment line.
func WithKeepAlive(d time.Duration) Option {
	return func(b *Broker) {
		if d > 0 {
			b.keepAlive = d
		}
	}
}

// WithReplay sets how many recent events a reconnecting client can catch
// up on through Last-Event-ID. Zero disables replay.
func WithReplay(n int) Option {
	return func(b *Broker) {
		if n >= 0 {
			b.replay = n
		}
	}
}

// Broker fans run events out to connected clients.
//
// A single loop goroutine owns the client set, the replay ring and the
// models.changed throttle. Public methods talk to it over channels.
type Broker struct {
	changedMin time.Duration
	keepAlive  time.Duration
	replay     int

	subscribeCh   chan subscribeReq
	unsubscribeCh chan chan []byte
	publishCh     chan Event
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker starts a broker.
func NewBroker(opts ...Option) *Broker {
	b := &Broker{
		changedMin:    defaultChangedThrottle,
		keepAlive:     defaultKeepAlive,
		replay:        defaultReplay,
		subscribeCh:   make(chan subscribeReq),
		unsubscribeCh: make(chan chan []byte),
		publishCh:     make(chan Event, 256),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}

	go b.loop()
	return b
}

func (b *Broker) loop() {
	defer close(b.stopped)

	clients := make(map[chan []byte]struct{})
	var (
		nextID      int64
		history     []frame
		lastChanged time.Time
	)

	send := func(ch chan []byte, raw []byte) {
		select {
		case ch <- raw:
		default:
			// Slow client; it can catch up via Last-Event-ID.
		}
	}

	broadcast := func(ev Event) {
		payload, err := json.Marshal(ev.Data)
		if err != nil {
			return
		}
		nextID++
		f := frame{id: nextID, raw: encode(nextID, ev.Type, payload)}
		if b.replay > 0 {
			history = append(history, f)
			if len(history) > b.replay {
				history = history[len(history)-b.replay:]
			}
		}
		for ch := range clients {
			send(ch, f.raw)
		}
	}

	for {
		select {
		case <-b.stopCh:
			for ch := range clients {
				close(ch)
			}
			return

		case req := <-b.subscribeCh:
			clients[req.ch] = struct{}{}
			if req.lastID > 0 {
				for _, f := range history {
					if f.id > req.lastID {
						send(req.ch, f.raw)
					}
				}
			}

		case ch := <-b.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}

		case ev := <-b.publishCh:
			broadcast(ev)

			wc, ok := ev.Data.(writeCounter)
			if !ok || wc.Written() == 0 {
				continue
			}
			if now := time.Now(); now.Sub(lastChanged) >= b.changedMin {
				lastChanged = now
				broadcast(Event{Type: EventModelsChanged, Data: map[string]int{"files": wc.Written()}})
			}

		case resp := <-b.countReqCh:
			resp <- len(clients)
		}
	}
}

func encode(id int64, kind string, payload []byte) []byte {
	return fmt.Appendf(nil, "id: %d\nevent: %s\ndata: %s\n\n", id, kind, payload)
}

// Close stops the loop and closes every client channel. It is safe to call
// more than once.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe registers a client. Events newer than lastID still held in the
// replay ring are queued first; pass 0 for a fresh stream.
func (b *Broker) Subscribe(lastID int64) chan []byte {
	ch := make(chan []byte, clientBuffer)
	if b.closed.Load() {
		close(ch)
		return ch
	}
	select {
	case b.subscribeCh <- subscribeReq{ch: ch, lastID: lastID}:
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

// Publish queues ev for every client. When ev.Data reports written files a
// throttled models.changed event follows it.
func (b *Broker) Publish(ev Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- ev:
	case <-b.stopped:
	}
}

// PublishEvent implements pipeline.Publisher.
func (b *Broker) PublishEvent(kind string, data any) {
	b.Publish(Event{Type: kind, Data: data})
}

// ServeHTTP streams events to one client (GET /api/events). A reconnecting
// client resumes after its Last-Event-ID header.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	lastID, _ := strconv.ParseInt(r.Header.Get("Last-Event-ID"), 10, 64)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "retry: %d\n\n", (3 * time.Second).Milliseconds())
	flusher.Flush()

	ch := b.Subscribe(lastID)
	defer b.Unsubscribe(ch)

	ping := time.NewTicker(b.keepAlive)
	defer ping.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			_, _ = w.Write([]byte(": keep-alive\n\n"))
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
