package orchestrator

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"droid/internal/agent/ports"
	"droid/internal/logging"
)

const (
	subscriberBuffer = 100
	replayBuffer     = 64
	replaySessions   = 256
)

// Broadcaster fans events out to side-channel subscribers (websocket feeds)
// and keeps a bounded per-session replay buffer so late subscribers see the
// recent past. The primary SSE stream does not go through here; it reads the
// run's own ordered channel.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan ports.AgentEvent]struct{}
	recent      *lru.Cache[string, *eventRing]
	logger      logging.Logger
}

// NewBroadcaster constructs a broadcaster with an LRU-bounded replay cache.
func NewBroadcaster(logger logging.Logger) *Broadcaster {
	recent, _ := lru.New[string, *eventRing](replaySessions)
	return &Broadcaster{
		subscribers: make(map[string]map[chan ports.AgentEvent]struct{}),
		recent:      recent,
		logger:      logging.OrNop(logger),
	}
}

// Subscribe registers a new consumer for sessionKey events.
func (b *Broadcaster) Subscribe(sessionKey string) chan ports.AgentEvent {
	ch := make(chan ports.AgentEvent, subscriberBuffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subscribers[sessionKey] == nil {
		b.subscribers[sessionKey] = make(map[chan ports.AgentEvent]struct{})
	}
	b.subscribers[sessionKey][ch] = struct{}{}
	return ch
}

// Unsubscribe removes a consumer; its channel is closed by the caller's
// reader going away, not here, to avoid double-close races.
func (b *Broadcaster) Unsubscribe(sessionKey string, ch chan ports.AgentEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if subs, ok := b.subscribers[sessionKey]; ok {
		delete(subs, ch)
		if len(subs) == 0 {
			delete(b.subscribers, sessionKey)
		}
	}
}

// Publish records the event and delivers it to subscribers without blocking;
// a slow subscriber loses events rather than stalling the run.
func (b *Broadcaster) Publish(event ports.AgentEvent) {
	key := event.GetSessionKey()

	ring, ok := b.recent.Get(key)
	if !ok {
		ring = newEventRing(replayBuffer)
		b.recent.Add(key, ring)
	}
	ring.append(event)

	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subscribers[key] {
		select {
		case ch <- event:
		default:
			b.logger.Warn("Dropping event %s for slow subscriber on session %s", event.EventType(), key)
		}
	}
}

// Recent returns the buffered recent events for sessionKey, oldest first.
func (b *Broadcaster) Recent(sessionKey string) []ports.AgentEvent {
	ring, ok := b.recent.Get(sessionKey)
	if !ok {
		return nil
	}
	return ring.snapshot()
}

type eventRing struct {
	mu  sync.Mutex
	buf []ports.AgentEvent
	max int
}

func newEventRing(max int) *eventRing {
	return &eventRing{max: max}
}

func (r *eventRing) append(event ports.AgentEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf = append(r.buf, event)
	if len(r.buf) > r.max {
		r.buf = r.buf[len(r.buf)-r.max:]
	}
}

func (r *eventRing) snapshot() []ports.AgentEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ports.AgentEvent, len(r.buf))
	copy(out, r.buf)
	return out
}
