package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/recipe-ingest/constants"
)

// ApprovedSender is an allow-listed email address.
type ApprovedSender struct {
	Email     string    `json:"email"`
	Name      string    `json:"name,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// EmailAttachment is one image (or text body) pulled from a message.
type EmailAttachment struct {
	ID          uuid.UUID                  `json:"id"`
	MessageID   string                     `json:"message_id"`
	Sender      string                     `json:"sender"`
	Filename    string                     `json:"filename"`
	ContentType string                     `json:"content_type"`
	Size        int                        `json:"size"`
	Path        string                     `json:"path,omitempty"`
	GroupIndex  int                        `json:"group_index"`
	Slot        constants.PhotoSlot        `json:"slot,omitempty"`
	Embedded    bool                       `json:"embedded"`
	Status      constants.AttachmentStatus `json:"status"`
	Error       string                     `json:"error,omitempty"`
	JobID       *uuid.UUID                 `json:"job_id,omitempty"`
	CreatedAt   time.Time                  `json:"created_at"`
}

// ProcessedEmail records a mailbox message that has been handled, keyed by
// its Message-ID header.
type ProcessedEmail struct {
	MessageID   string    `json:"message_id"`
	Sender      string    `json:"sender"`
	Subject     string    `json:"subject,omitempty"`
	Outcome     string    `json:"outcome"`
	Jobs        int       `json:"jobs"`
	ReceivedAt  time.Time `json:"received_at"`
	ProcessedAt time.Time `json:"processed_at"`
}
