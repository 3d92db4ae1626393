package storage

import "time"

// Event is one logged interaction: a completed exchange, or a rating a
// user left through the feedback keyboard (Rating set, messages empty).
// Events are appended in chronological order.
type Event struct {
	Timestamp         time.Time `json:"timestamp"`
	UserID            int64     `json:"user_id"`
	UserMessage       string    `json:"user_message,omitempty"`
	AssistantResponse string    `json:"assistant_response,omitempty"`
	Rating            *int      `json:"rating,omitempty"`
}

// Recorder abstracts persistence of interaction events.
// Implementations must be safe for concurrent use.
type Recorder interface {
	AppendInteraction(event Event) error
	LoadInteractions() ([]Event, error)
}
