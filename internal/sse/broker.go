// Package sse streams sensor activity to browsers as Server-Sent Events.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/starford/sensorhub/internal/models"
)

// Event types.
const (
	TypeRecordCreated  = "record.created"
	TypeSensorReloaded = "sensor.reloaded"
	TypeSensorUpdated  = "sensor.updated"
)

const keepAliveInterval = 30 * time.Second

// Event represents an SSE event to broadcast.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// RecordEvent is the payload of record.created.
type RecordEvent struct {
	Sensor  string     `json:"sensor"`
	K       models.Key `json:"k"`
	Caption string     `json:"caption"`
}

type sensorEventReq struct {
	kind   string
	sensor string
	record *RecordEvent
}

// Broker fans events out to connected SSE clients.
//
// A single internal loop owns the client set, the event sequence, and the
// per-sensor throttle timestamps. Public methods talk to it over channels.
type Broker struct {
	updateMin time.Duration

	subscribeCh   chan chan []byte
	unsubscribeCh chan chan []byte
	publishCh     chan Event
	sensorEventCh chan sensorEventReq
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker creates a broker that emits at most one sensor.updated per
// sensor per updateThrottle.
func NewBroker(updateThrottle time.Duration) *Broker {
	if updateThrottle <= 0 {
		updateThrottle = 2 * time.Second
	}

	b := &Broker{
		updateMin:     updateThrottle,
		subscribeCh:   make(chan chan []byte),
		unsubscribeCh: make(chan chan []byte),
		publishCh:     make(chan Event, 256),
		sensorEventCh: make(chan sensorEventReq, 256),
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
	lastUpdate := make(map[string]time.Time)
	var seq uint64

	broadcast := func(event Event) {
		payload, err := json.Marshal(event.Data)
		if err != nil {
			return
		}
		seq++
		raw := []byte(fmt.Sprintf("id: %d\nevent: %s\ndata: %s\n\n", seq, event.Type, payload))

		for ch := range clients {
			select {
			case ch <- raw:
			default:
				// Slow client; drop rather than stall the loop.
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

		case req := <-b.sensorEventCh:
			switch req.kind {
			case TypeRecordCreated:
				broadcast(Event{Type: TypeRecordCreated, Data: req.record})
			case TypeSensorReloaded:
				broadcast(Event{Type: TypeSensorReloaded, Data: map[string]string{"sensor": req.sensor}})
			}

			now := time.Now()
			if now.Sub(lastUpdate[req.sensor]) >= b.updateMin {
				lastUpdate[req.sensor] = now
				broadcast(Event{Type: TypeSensorUpdated, Data: map[string]string{"sensor": req.sensor}})
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

// RecordCreated announces a record seen for the first time, followed by a
// throttled sensor.updated.
func (b *Broker) RecordCreated(sensor string, rec models.Record) {
	b.sensorEvent(sensorEventReq{
		kind:   TypeRecordCreated,
		sensor: sensor,
		record: &RecordEvent{Sensor: sensor, K: rec.K, Caption: rec.Caption},
	})
}

// SensorReloaded announces that a sensor picked up edited settings.
func (b *Broker) SensorReloaded(sensor string) {
	b.sensorEvent(sensorEventReq{kind: TypeSensorReloaded, sensor: sensor})
}

func (b *Broker) sensorEvent(req sensorEventReq) {
	if b.closed.Load() {
		return
	}
	select {
	case b.sensorEventCh <- req:
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

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-keepAlive.C:
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
