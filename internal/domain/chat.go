package domain

import "time"

// ChatMessage is immutable once received.
type ChatMessage struct {
	ID         string    `json:"id"`
	AuthorID   UserID    `json:"userId"`
	AuthorName string    `json:"userName"`
	Content    string    `json:"content"`
	SentAt     time.Time `json:"sentAt"`
}
