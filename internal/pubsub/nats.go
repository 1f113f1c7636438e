package pubsub

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"
)

// NATS is an Upstream over a plain NATS subject.
type NATS struct {
	nc      *nats.Conn
	subject string
	log     *slog.Logger

	mu   sync.Mutex
	subs map[chan Event]*natsSub
}

// natsSub guards ch so a handler still running on the NATS goroutine never
// sends after the channel was closed.
type natsSub struct {
	sub *nats.Subscription

	mu     sync.Mutex
	ch     chan Event
	closed bool
}

// deliver reports false when the event was dropped.
func (s *natsSub) deliver(event Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- event:
		return true
	default:
		return false
	}
}

func (s *natsSub) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

func NewNATS(url, subject string, logger *slog.Logger) (*NATS, error) {
	if logger == nil {
		logger = slog.Default()
	}
	nc, err := nats.Connect(url, nats.Name("lawfirm"))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &NATS{
		nc:      nc,
		subject: subject,
		log:     logger,
		subs:    map[chan Event]*natsSub{},
	}, nil
}

func (n *NATS) Publish(event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		n.log.Error("marshal event", "type", event.Type, "err", err)
		return
	}
	if err := n.nc.Publish(n.subject, data); err != nil {
		n.log.Error("publish event", "type", event.Type, "err", err)
	}
}

func (n *NATS) Subscribe() chan Event {
	ns := &natsSub{ch: make(chan Event, 64)}
	sub, err := n.nc.Subscribe(n.subject, func(msg *nats.Msg) {
		var event Event
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			n.log.Warn("drop malformed event", "err", err)
			return
		}
		if !ns.deliver(event) {
			n.log.Warn("nats subscriber gone or full, dropping event", "type", event.Type)
		}
	})
	if err != nil {
		n.log.Error("nats subscribe", "subject", n.subject, "err", err)
		ns.close()
		return ns.ch
	}
	ns.sub = sub
	n.mu.Lock()
	n.subs[ns.ch] = ns
	n.mu.Unlock()
	return ns.ch
}

func (n *NATS) Unsubscribe(ch chan Event) {
	n.mu.Lock()
	ns, ok := n.subs[ch]
	delete(n.subs, ch)
	n.mu.Unlock()
	if !ok {
		return
	}
	_ = ns.sub.Unsubscribe()
	ns.close()
}

// Close drains subscriptions and closes the connection.
func (n *NATS) Close() {
	n.mu.Lock()
	subs := n.subs
	n.subs = map[chan Event]*natsSub{}
	n.mu.Unlock()
	for _, ns := range subs {
		_ = ns.sub.Unsubscribe()
		ns.close()
	}
	n.nc.Close()
}
