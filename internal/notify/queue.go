package notify

import (
	"container/list"
	"sync"
	"time"
)

const defaultQueueSize = 100

// QueuedMessage is a delivered notification kept for replay.
type QueuedMessage struct {
	EventID   int64
	Message   Message
	Timestamp time.Time
}

// MessageQueue buffers recent notifications per user session so a
// reconnecting client can ask for everything after its Last-Event-ID.
// Each session gets its own bounded list so one user's burst cannot evict
// messages belonging to another user.
type MessageQueue struct {
	mu      sync.RWMutex
	queues  map[string]*list.List
	maxSize int
}

// NewMessageQueue creates a per-session queue keeping maxSize messages.
func NewMessageQueue(maxSize int) *MessageQueue {
	if maxSize <= 0 {
		maxSize = defaultQueueSize
	}
	return &MessageQueue{
		queues:  make(map[string]*list.List),
		maxSize: maxSize,
	}
}

// Enqueue appends a message to the session queue.
func (q *MessageQueue) Enqueue(userID, sessionID string, eventID int64, msg Message, at time.Time) {
	key := sessionKey(userID, sessionID)
	q.mu.Lock()
	defer q.mu.Unlock()

	l, ok := q.queues[key]
	if !ok {
		l = list.New()
		q.queues[key] = l
	}
	l.PushBack(&QueuedMessage{EventID: eventID, Message: msg, Timestamp: at})
	for l.Len() > q.maxSize {
		l.Remove(l.Front())
	}
}

// Since returns the queued messages of a session with an ID above afterEventID.
func (q *MessageQueue) Since(userID, sessionID string, afterEventID int64) []*QueuedMessage {
	key := sessionKey(userID, sessionID)
	q.mu.RLock()
	defer q.mu.RUnlock()

	l, ok := q.queues[key]
	if !ok {
		return nil
	}
	var missed []*QueuedMessage
	for e := l.Front(); e != nil; e = e.Next() {
		msg := e.Value.(*QueuedMessage)
		if msg.EventID > afterEventID {
			missed = append(missed, msg)
		}
	}
	return missed
}

// PruneBefore drops every session whose newest message is older than cutoff
// and returns how many sessions were removed.
func (q *MessageQueue) PruneBefore(cutoff time.Time) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	removed := 0
	for key, l := range q.queues {
		back := l.Back()
		if back == nil || back.Value.(*QueuedMessage).Timestamp.Before(cutoff) {
			delete(q.queues, key)
			removed++
		}
	}
	return removed
}

// Sessions reports how many sessions currently hold queued messages.
func (q *MessageQueue) Sessions() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.queues)
}

func sessionKey(userID, sessionID string) string {
	return userID + ":" + sessionID
}
