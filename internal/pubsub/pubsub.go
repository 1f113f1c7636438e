package pubsub

import (
	"log/slog"
	"sync"
	"time"
)

const (
	EventGameStarted    = "game.started"
	EventRoundAdvanced  = "round.advanced"
	EventGameReset      = "game.reset"
	EventTeamUpdated    = "team.updated"
	EventBidPlaced      = "bid.placed"
	EventProjectCreated = "project.created"
)

type Event struct {
	Type    string         `json:"type"`
	At      time.Time      `json:"at"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Upstream broadcasts events across processes (NATS).
type Upstream interface {
	Publish(Event)
	Subscribe() chan Event
	Unsubscribe(chan Event)
}

// PubSub fans events out to in-process subscribers. With an upstream set,
// Publish goes to the upstream and local delivery happens when the upstream
// echoes the event back.
type PubSub struct {
	mu          sync.RWMutex
	subscribers []chan Event
	upstream    Upstream
	log         *slog.Logger
}

func New(logger *slog.Logger) *PubSub {
	if logger == nil {
		logger = slog.Default()
	}
	return &PubSub{log: logger}
}

func NewWithUpstream(upstream Upstream, logger *slog.Logger) *PubSub {
	ps := New(logger)
	ps.upstream = upstream
	go func() {
		ch := upstream.Subscribe()
		for event := range ch {
			ps.publishLocal(event)
		}
		ps.log.Debug("pubsub upstream closed")
	}()
	return ps
}

func (ps *PubSub) Subscribe() chan Event {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ch := make(chan Event, 16)
	ps.subscribers = append(ps.subscribers, ch)
	return ch
}

func (ps *PubSub) Unsubscribe(ch chan Event) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	for i, sub := range ps.subscribers {
		if sub == ch {
			close(ch)
			ps.subscribers = append(ps.subscribers[:i], ps.subscribers[i+1:]...)
			return
		}
	}
}

func (ps *PubSub) Publish(event Event) {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	if ps.upstream != nil {
		ps.upstream.Publish(event)
		return
	}
	ps.publishLocal(event)
}

// publishLocal holds the read lock across the sends so Unsubscribe cannot
// close a channel mid-delivery. Sends never block.
func (ps *PubSub) publishLocal(event Event) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	for _, ch := range ps.subscribers {
		select {
		case ch <- event:
		default:
			ps.log.Warn("pubsub subscriber full, dropping event", "type", event.Type)
		}
	}
}
