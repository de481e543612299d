// Package realtime provides the in-memory fan-out used to push messages and
// typing state to live widget sessions. Delivery is best-effort: slow
// subscribers drop events, and publishers never block.
package realtime

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/replydesk/internal/conversation"
)

// subscriberBufferSize is the channel buffer for each subscriber.
const subscriberBufferSize = 64

// EventKind distinguishes session events.
type EventKind string

const (
	EventMessage EventKind = "message"
	EventTyping  EventKind = "typing"
)

// Event is one unit pushed to a widget session.
type Event struct {
	Kind    EventKind
	OrgID   int64
	Message *conversation.Message // set for EventMessage
	Typing  bool                  // set for EventTyping
}

// Broadcaster provides in-memory pub/sub keyed by widget session id. The
// socket server subscribes per connection; the conversation service and the
// orchestrator publish.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan Event // sessionID -> subID -> ch
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[string]map[string]chan Event),
	}
}

// Subscribe registers a subscriber for events on the given session id.
// The subscription is cleaned up automatically when ctx is cancelled.
func (b *Broadcaster) Subscribe(ctx context.Context, sessionID string) (<-chan Event, string) {
	subID := uuid.New().String()
	ch := make(chan Event, subscriberBufferSize)

	b.mu.Lock()
	if _, ok := b.subscribers[sessionID]; !ok {
		b.subscribers[sessionID] = make(map[string]chan Event)
	}
	b.subscribers[sessionID][subID] = ch
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.Unsubscribe(sessionID, subID)
	}()

	return ch, subID
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(sessionID, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[sessionID]
	if !ok {
		return
	}
	ch, exists := subs[subID]
	if !exists {
		return
	}
	delete(subs, subID)
	close(ch)
	if len(subs) == 0 {
		delete(b.subscribers, sessionID)
	}
}

// PushMessage publishes a new message to the session's subscribers.
func (b *Broadcaster) PushMessage(orgID int64, sessionID string, m *conversation.Message) {
	b.publish(sessionID, Event{Kind: EventMessage, OrgID: orgID, Message: m})
}

// PushTyping publishes a typing-indicator change to the session.
func (b *Broadcaster) PushTyping(orgID int64, sessionID string, typing bool) {
	b.publish(sessionID, Event{Kind: EventTyping, OrgID: orgID, Typing: typing})
}

func (b *Broadcaster) publish(sessionID string, event Event) {
	b.mu.RLock()
	subs, ok := b.subscribers[sessionID]
	if !ok || len(subs) == 0 {
		b.mu.RUnlock()
		return
	}
	// Copy channels under read lock to avoid holding it during sends.
	targets := make([]chan Event, 0, len(subs))
	for _, ch := range subs {
		targets = append(targets, ch)
	}
	b.mu.RUnlock()

	for _, ch := range targets {
		select {
		case ch <- event:
		default:
			log.Debug().
				Str("session_id", sessionID).
				Str("kind", string(event.Kind)).
				Msg("dropped event for slow subscriber")
		}
	}
}
