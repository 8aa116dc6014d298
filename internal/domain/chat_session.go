package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// MaxStoredMessages bounds the persisted chat transcript.
const MaxStoredMessages = 20

// ChatSession stores persisted assistant state for one user and browser tab.
type ChatSession struct {
	UserID       string
	SessionID    string
	PendingJSON  *string
	MessagesJSON string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// StoredMessage is a serialized chat message entry.
type StoredMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Messages decodes the transcript. An empty transcript yields nil.
func (s *ChatSession) Messages() ([]StoredMessage, error) {
	if s.MessagesJSON == "" {
		return nil, nil
	}
	var out []StoredMessage
	if err := json.Unmarshal([]byte(s.MessagesJSON), &out); err != nil {
		return nil, fmt.Errorf("decode chat transcript: %w", err)
	}
	return out, nil
}

// AppendMessages adds msgs to the transcript, keeping only the newest
// MaxStoredMessages entries.
func (s *ChatSession) AppendMessages(msgs ...StoredMessage) error {
	current, err := s.Messages()
	if err != nil {
		// A corrupt transcript is replaced rather than blocking the chat.
		current = nil
	}
	current = append(current, msgs...)
	if len(current) > MaxStoredMessages {
		current = current[len(current)-MaxStoredMessages:]
	}
	data, err := json.Marshal(current)
	if err != nil {
		return fmt.Errorf("encode chat transcript: %w", err)
	}
	s.MessagesJSON = string(data)
	return nil
}

// Pending decodes the pending creation offer, if any.
func (s *ChatSession) Pending() ([]EventDraft, error) {
	if s.PendingJSON == nil || *s.PendingJSON == "" {
		return nil, nil
	}
	var out []EventDraft
	if err := json.Unmarshal([]byte(*s.PendingJSON), &out); err != nil {
		return nil, fmt.Errorf("decode pending offer: %w", err)
	}
	return out, nil
}

// ClearPending forgets the pending offer.
func (s *ChatSession) ClearPending() {
	s.PendingJSON = nil
}

// SetPending replaces the pending offer. An empty list clears it.
func (s *ChatSession) SetPending(drafts []EventDraft) error {
	if len(drafts) == 0 {
		s.ClearPending()
		return nil
	}
	data, err := json.Marshal(drafts)
	if err != nil {
		return fmt.Errorf("encode pending offer: %w", err)
	}
	encoded := string(data)
	s.PendingJSON = &encoded
	return nil
}
