package bus

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"classtrack/internal/metrics"
)

// subscriptionBuffer bounds each subscriber's pending messages. A publish to
// a subscriber whose buffer is full drops the message rather than blocking
// device ingestion.
const subscriptionBuffer = 100

// DashboardAll is the group aggregating every classroom's dashboard events.
const DashboardAll = "dashboard:*"

// Dashboard returns the topic for a single classroom's dashboard group.
func Dashboard(classroomID int64) string {
	return fmt.Sprintf("dashboard:%d", classroomID)
}

// Message is one fan-out payload. Type selects the dashboard outbound
// encoding; Event carries the attendance event kind when Type is
// "attendance". Data is the typed payload each subscriber marshals itself.
type Message struct {
	Type  string
	Event string
	Data  any
}

// Subscription is one observer's membership across a set of topics.
// Messages arrive on C in the order they were published to this
// subscription; there is no ordering across subscriptions.
type Subscription struct {
	C      <-chan Message
	ch     chan Message
	topics []string
	closed bool
	mu     sync.Mutex
}

// Bus is an in-process topic registry: publishes are fanned out to every
// subscription currently joined to the topic. No persistence, no replay;
// a publish with no subscribers is a silent no-op.
type Bus struct {
	mu     sync.RWMutex
	groups map[string]map[*Subscription]struct{}
	logger *zap.Logger
}

// New creates an empty bus.
func New(logger *zap.Logger) *Bus {
	return &Bus{
		groups: make(map[string]map[*Subscription]struct{}),
		logger: logger,
	}
}

// Subscribe joins the given topics and returns the subscription handle.
// The caller owns the handle and must Unsubscribe it on disconnect.
func (b *Bus) Subscribe(topics ...string) *Subscription {
	ch := make(chan Message, subscriptionBuffer)
	sub := &Subscription{C: ch, ch: ch, topics: topics}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, topic := range topics {
		group, ok := b.groups[topic]
		if !ok {
			group = make(map[*Subscription]struct{})
			b.groups[topic] = group
		}
		group[sub] = struct{}{}
	}
	return sub
}

// Join adds the subscription to one more topic after the fact. Used by the
// all-dashboards connection to snapshot-join every active classroom group.
func (b *Bus) Join(sub *Subscription, topic string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	group, ok := b.groups[topic]
	if !ok {
		group = make(map[*Subscription]struct{})
		b.groups[topic] = group
	}
	group[sub] = struct{}{}
	sub.topics = append(sub.topics, topic)
}

// Unsubscribe removes the subscription from all of its topics and closes
// its channel. Safe to call more than once.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	b.mu.Lock()
	for _, topic := range sub.topics {
		if group, ok := b.groups[topic]; ok {
			delete(group, sub)
			if len(group) == 0 {
				delete(b.groups, topic)
			}
		}
	}
	b.mu.Unlock()

	sub.mu.Lock()
	defer sub.mu.Unlock()
	if !sub.closed {
		sub.closed = true
		close(sub.ch)
	}
}

// Publish fans msg out to every current member of topic. Delivery is
// best-effort per subscriber: a full subscriber buffer drops the message.
func (b *Bus) Publish(topic string, msg Message) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	group, ok := b.groups[topic]
	if !ok {
		return
	}
	metrics.BroadcastsTotal.Inc()
	for sub := range group {
		sub.mu.Lock()
		if sub.closed {
			sub.mu.Unlock()
			continue
		}
		select {
		case sub.ch <- msg:
		default:
			b.logger.Warn("dropping broadcast for slow subscriber",
				zap.String("topic", topic), zap.String("type", msg.Type))
		}
		sub.mu.Unlock()
	}
}
