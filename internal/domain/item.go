package domain

import (
	"time"

	"github.com/google/uuid"
)

type ItemStatus string

const (
	ItemStatusUploaded   ItemStatus = "UPLOADED"
	ItemStatusQueued     ItemStatus = "QUEUED"
	ItemStatusProcessing ItemStatus = "PROCESSING"
	ItemStatusReady      ItemStatus = "READY"
	ItemStatusFailed     ItemStatus = "FAILED"
)

var itemTransitions = map[ItemStatus][]ItemStatus{
	ItemStatusUploaded:   {ItemStatusQueued, ItemStatusFailed},
	ItemStatusQueued:     {ItemStatusProcessing},
	ItemStatusProcessing: {ItemStatusReady, ItemStatusQueued, ItemStatusFailed},
	ItemStatusFailed:     {ItemStatusQueued},
}

// CanTransition reports whether moving from one status to another is a legal
// state-machine step. A manual forced retry bypasses this check at the service
// layer; the store never does.
func CanTransition(from, to ItemStatus) bool {
	for _, next := range itemTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Item is one uploaded video and its processing state.
type Item struct {
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	OriginalName string     `json:"original_name"`
	MimeType     string     `json:"mime_type"`
	Status       ItemStatus `json:"status"`
	RetryCount   int        `json:"retry_count"`
	MaxRetries   int        `json:"max_retries"`
	ErrorMessage string     `json:"error_message,omitempty"`
	ErrorCode    string     `json:"error_code,omitempty"`
	LastFailedAt *time.Time `json:"last_failed_at,omitempty"`
	ByteSize     int64      `json:"byte_size"`
	DurationSec  float64    `json:"duration_sec,omitempty"`
	Width        int        `json:"width,omitempty"`
	Height       int        `json:"height,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func NewItem(title, originalName, mimeType string, maxRetries int) *Item {
	now := time.Now().UTC()
	return &Item{
		ID:           uuid.NewString(),
		Title:        title,
		OriginalName: originalName,
		MimeType:     mimeType,
		Status:       ItemStatusUploaded,
		MaxRetries:   maxRetries,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// RetriesRemaining reports whether another automatic attempt is allowed after
// one more failure is counted.
func (i *Item) RetriesRemaining() bool {
	return i.RetryCount < i.MaxRetries
}

// IsTerminal reports whether the item has left the processing loop.
func (i *Item) IsTerminal() bool {
	return i.Status == ItemStatusReady || i.Status == ItemStatusFailed
}
