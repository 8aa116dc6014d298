// Package notify pushes planner notifications, such as the celebration that
// follows a successful batch, to every connected client of a user session.
package notify

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Message types.
const (
	TypeCelebration = "celebration"
	TypeSummary     = "summary"
)

const defaultBufferSize = 100

// ErrSubscriptionClosed is returned when writing to a closed subscription.
var ErrSubscriptionClosed = errors.New("subscription closed")

// Message is one notification addressed to a user session.
type Message struct {
	Type      string `json:"type"`
	Content   string `json:"content"`
	UserID    string `json:"-"`
	SessionID string `json:"-"`
}

// DeliverFunc writes one message to a client.
type DeliverFunc func(eventID int64, msg Message) error

// Subscription is one connected client.
type Subscription struct {
	ID          int64
	UserID      string
	SessionID   string
	ConnectedAt time.Time

	deliver     DeliverFunc
	lastEventID int64
	mu          sync.Mutex
	done        chan struct{}
	closeOnce   sync.Once
}

// Done is closed once the subscription stops receiving messages.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// LastEventID returns the highest event ID delivered to the client.
func (s *Subscription) LastEventID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastEventID
}

// Do runs fn while holding the subscription's write lock, so out-of-band
// frames such as keepalives never interleave with deliveries.
func (s *Subscription) Do(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.done:
		return ErrSubscriptionClosed
	default:
	}
	return fn()
}

// send delivers msg unless the client already saw eventID.
func (s *Subscription) send(eventID int64, msg Message) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.done:
		return false, ErrSubscriptionClosed
	default:
	}
	if eventID <= s.lastEventID {
		return false, nil
	}
	if err := s.deliver(eventID, msg); err != nil {
		return false, err
	}
	s.lastEventID = eventID
	return true, nil
}

// close waits for an in-flight write, so the client's writer is never used
// after Unsubscribe returns.
func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeOnce.Do(func() { close(s.done) })
}

// Config tunes the hub.
type Config struct {
	// BufferSize is the capacity of the publish channel. Messages published
	// while it is full are dropped.
	BufferSize int
	// QueueSize is the number of messages kept per session for replay.
	QueueSize int
}

// Hub fans messages out to subscriptions. Publishing never blocks: messages go
// onto a buffered channel drained by a single broadcast goroutine.
type Hub struct {
	broadcast chan Message
	queue     *MessageQueue

	subs   map[string]map[int64]*Subscription
	subsMu sync.RWMutex

	eventCounter int64
	subCounter   int64
	counterMu    sync.Mutex

	done      chan struct{}
	closeOnce sync.Once
	stopped   chan struct{}
	logger    *slog.Logger
	now       func() time.Time
}

// NewHub creates a hub and starts its broadcast loop.
func NewHub(cfg Config, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	h := &Hub{
		broadcast: make(chan Message, cfg.BufferSize),
		queue:     NewMessageQueue(cfg.QueueSize),
		subs:      make(map[string]map[int64]*Subscription),
		done:      make(chan struct{}),
		stopped:   make(chan struct{}),
		logger:    logger,
		now:       time.Now,
	}
	go h.broadcastLoop()
	return h
}

// Publish queues msg for delivery. It reports false when the hub is closed or
// the buffer is full.
func (h *Hub) Publish(msg Message) bool {
	select {
	case <-h.done:
		return false
	default:
	}
	select {
	case h.broadcast <- msg:
		return true
	default:
		h.logger.Warn("[BROADCAST] Buffer full, dropping message",
			"user_id", msg.UserID,
			"session_id", msg.SessionID,
			"type", msg.Type,
		)
		return false
	}
}

// Celebrate publishes a celebration for a user session.
func (h *Hub) Celebrate(userID, sessionID, content string) {
	h.Publish(Message{Type: TypeCelebration, Content: content, UserID: userID, SessionID: sessionID})
}

// CelebratorFor returns a fire-and-forget callback bound to one session,
// suitable as a batch celebrator.
func (h *Hub) CelebratorFor(userID, sessionID string) func(string) {
	return func(content string) {
		h.Celebrate(userID, sessionID, content)
	}
}

// NextEventID allocates a stream event ID.
func (h *Hub) NextEventID() int64 {
	h.counterMu.Lock()
	defer h.counterMu.Unlock()
	h.eventCounter++
	return h.eventCounter
}

// Subscribe registers a client for a user session.
func (h *Hub) Subscribe(userID, sessionID string, deliver DeliverFunc) *Subscription {
	h.counterMu.Lock()
	h.subCounter++
	id := h.subCounter
	h.counterMu.Unlock()

	sub := &Subscription{
		ID:          id,
		UserID:      userID,
		SessionID:   sessionID,
		ConnectedAt: h.now(),
		deliver:     deliver,
		done:        make(chan struct{}),
	}

	key := sessionKey(userID, sessionID)
	h.subsMu.Lock()
	if _, ok := h.subs[key]; !ok {
		h.subs[key] = make(map[int64]*Subscription)
	}
	h.subs[key][id] = sub
	h.subsMu.Unlock()
	return sub
}

// Unsubscribe removes and closes a subscription.
func (h *Hub) Unsubscribe(sub *Subscription) {
	key := sessionKey(sub.UserID, sub.SessionID)
	h.subsMu.Lock()
	if conns, ok := h.subs[key]; ok {
		delete(conns, sub.ID)
		if len(conns) == 0 {
			delete(h.subs, key)
		}
	}
	h.subsMu.Unlock()
	sub.close()
}

// Replay delivers the queued messages the client missed after afterEventID
// and returns how many were sent.
func (h *Hub) Replay(sub *Subscription, afterEventID int64) int {
	sent := 0
	for _, m := range h.queue.Since(sub.UserID, sub.SessionID, afterEventID) {
		delivered, err := sub.send(m.EventID, m.Message)
		if err != nil {
			h.logger.Warn("[REPLAY] Failed to deliver missed message", "error", err, "sub_id", sub.ID)
			return sent
		}
		if delivered {
			sent++
		}
	}
	return sent
}

// Subscribers reports the number of live subscriptions for a user session.
func (h *Hub) Subscribers(userID, sessionID string) int {
	h.subsMu.RLock()
	defer h.subsMu.RUnlock()
	return len(h.subs[sessionKey(userID, sessionID)])
}

// PruneBefore forgets replay queues idle since before cutoff.
func (h *Hub) PruneBefore(cutoff time.Time) int {
	return h.queue.PruneBefore(cutoff)
}

// Close stops the broadcast loop and closes every subscription.
func (h *Hub) Close() {
	h.closeOnce.Do(func() {
		close(h.done)
		<-h.stopped

		h.subsMu.Lock()
		for key, conns := range h.subs {
			for _, sub := range conns {
				sub.close()
			}
			delete(h.subs, key)
		}
		h.subsMu.Unlock()
	})
}

// broadcastLoop assigns event IDs, queues messages for replay and writes them
// to every subscription of the addressed session.
func (h *Hub) broadcastLoop() {
	defer close(h.stopped)
	h.logger.Info("[BROADCAST] Broadcast loop started")
	for {
		select {
		case <-h.done:
			h.logger.Info("[BROADCAST] Broadcast loop shutting down")
			return
		case msg := <-h.broadcast:
			h.dispatch(msg)
		}
	}
}

func (h *Hub) dispatch(msg Message) {
	eventID := h.NextEventID()
	h.queue.Enqueue(msg.UserID, msg.SessionID, eventID, msg, h.now())

	key := sessionKey(msg.UserID, msg.SessionID)
	h.subsMu.RLock()
	conns, ok := h.subs[key]
	if !ok {
		h.subsMu.RUnlock()
		h.logger.Debug("[BROADCAST] No subscribers for session", "user_id", msg.UserID, "session_id", msg.SessionID)
		return
	}
	// Snapshot to avoid holding the read lock during writes.
	targets := make([]*Subscription, 0, len(conns))
	for _, sub := range conns {
		targets = append(targets, sub)
	}
	h.subsMu.RUnlock()

	for _, sub := range targets {
		if _, err := sub.send(eventID, msg); err != nil && !errors.Is(err, ErrSubscriptionClosed) {
			h.logger.Warn("[BROADCAST] Failed to deliver message",
				"error", err,
				"sub_id", sub.ID,
				"user_id", sub.UserID,
			)
			h.Unsubscribe(sub)
		}
	}
}
