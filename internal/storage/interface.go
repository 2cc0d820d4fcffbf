// Package storage provides persistence interfaces for received AS2 messages.
//
// # Interface Design
//
//   - [MessageStore]: message metadata, signature outcome and the MDN sent
//   - [PayloadStore]: binary payload storage
//
// The [Store] interface combines both for convenience.
//
// # Implementations
//
// The mongodb sub-package stores records in a collection and payloads in
// GridFS. The memory sub-package keeps everything in process and is used
// when no database is configured.
//
// # Concurrency
//
// All store implementations must be safe for concurrent use from multiple
// goroutines.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned for unknown message or payload ids
var ErrNotFound = errors.New("not found")

// Store is the main storage interface combining all sub-stores
type Store interface {
	MessageStore
	PayloadStore

	// Close releases storage resources
	Close(ctx context.Context) error

	// Ping checks database connectivity
	Ping(ctx context.Context) error
}

// MessageStore manages message records
type MessageStore interface {
	// CreateMessage stores a new message
	CreateMessage(ctx context.Context, msg *Message) error

	// GetMessage retrieves a message by ID
	GetMessage(ctx context.Context, id string) (*Message, error)

	// GetMessageByAS2ID retrieves a message by its Message-ID header
	GetMessageByAS2ID(ctx context.Context, as2MessageID string) (*Message, error)

	// ListMessages returns messages with filtering, newest first
	ListMessages(ctx context.Context, filter *MessageFilter) ([]*Message, error)

	// CountMessages returns message count with filtering
	CountMessages(ctx context.Context, filter *MessageFilter) (int64, error)
}

// PayloadStore manages message payloads (large binary data)
type PayloadStore interface {
	// StorePayload stores a payload and returns its ID
	StorePayload(ctx context.Context, payload *PayloadData) (string, error)

	// GetPayload retrieves a payload by ID
	GetPayload(ctx context.Context, id string) (*PayloadData, error)

	// DeletePayload deletes a payload
	DeletePayload(ctx context.Context, id string) error
}

// Message is the record of a received AS2 message
type Message struct {
	ID        string           `bson:"_id" json:"id"`
	Direction MessageDirection `bson:"direction" json:"direction"`
	Status    MessageStatus    `bson:"status" json:"status"`

	// AS2 identifiers
	AS2MessageID string `bson:"as2_message_id" json:"as2MessageId"`
	From         string `bson:"as2_from" json:"as2From"`
	To           string `bson:"as2_to" json:"as2To"`
	Subject      string `bson:"subject,omitempty" json:"subject,omitempty"`

	Payloads []PayloadRef `bson:"payloads" json:"payloads"`

	// Duplicate marks a retransmission that was acknowledged but not
	// delivered again
	Duplicate bool `bson:"duplicate,omitempty" json:"duplicate,omitempty"`

	ReceivedAt  time.Time  `bson:"received_at" json:"receivedAt"`
	ProcessedAt *time.Time `bson:"processed_at,omitempty" json:"processedAt,omitempty"`

	// Security
	SignatureValid bool   `bson:"signature_valid" json:"signatureValid"`
	SignatureError string `bson:"signature_error,omitempty" json:"signatureError,omitempty"`

	// Receipt is the MDN returned to the sender
	Receipt *ReceiptRecord `bson:"receipt,omitempty" json:"receipt,omitempty"`

	LastError string `bson:"last_error,omitempty" json:"lastError,omitempty"`
}

// ReceiptRecord summarizes a sent MDN
type ReceiptRecord struct {
	MessageID    string `bson:"message_id" json:"messageId"`
	Disposition  string `bson:"disposition" json:"disposition"`
	Failed       bool   `bson:"failed" json:"failed"`
	Reason       string `bson:"reason,omitempty" json:"reason,omitempty"`
	MIC          string `bson:"mic,omitempty" json:"mic,omitempty"`
	MICAlgorithm string `bson:"mic_algorithm,omitempty" json:"micAlgorithm,omitempty"`
}

type MessageDirection string

const (
	DirectionInbound  MessageDirection = "inbound"
	DirectionOutbound MessageDirection = "outbound"
)

type MessageStatus string

const (
	StatusProcessed MessageStatus = "processed" // Payload accepted, processed MDN sent
	StatusFailed    MessageStatus = "failed"    // Failed MDN sent
	StatusRejected  MessageStatus = "rejected"  // No MDN could be produced
)

type MessageFilter struct {
	Direction MessageDirection
	Status    MessageStatus
	From      string
	Since     *time.Time
	Limit     int
	Offset    int
}

// PayloadRef references a stored payload
type PayloadRef struct {
	ID       string `bson:"id" json:"id"`
	Filename string `bson:"filename" json:"filename"`
	Size     int64  `bson:"size" json:"size"`
	Checksum string `bson:"checksum" json:"checksum"`
}

// PayloadData holds payload content and metadata
type PayloadData struct {
	ID        string `json:"id"`
	MessageID string `json:"messageId"`
	Filename  string `json:"filename"`
	Data      []byte `json:"-"`
	Checksum  string `json:"checksum"`
}
