package amqp

import (
	"encoding/json"
	"time"
)

// Event kinds published after a committed ledger mutation.
const (
	EventEntryCreated       = "entry_created"
	EventEntryAmended       = "entry_amended"
	EventEntryDeleted       = "entry_deleted"
	EventEntryArchived      = "entry_archived"
	EventEnvelopeDeposit    = "envelope_deposit"
	EventEnvelopeCreated    = "envelope_created"
	EventEnvelopeDeleted    = "envelope_deleted"
	EventEnvelopeReconciled = "envelope_reconciled"
)

// LedgerEventMessage is a lightweight change notification. Consumers fetch
// whatever detail they need from the database; the message only says which
// month (and envelope, if any) was touched.
type LedgerEventMessage struct {
	Kind       string    `json:"kind"`
	EntryID    int64     `json:"entry_id,omitempty"`
	EnvelopeID int64     `json:"envelope_id,omitempty"`
	Year       int       `json:"year"`
	Month      int       `json:"month"`
	Timestamp  time.Time `json:"timestamp"`
}

// NewLedgerEvent creates an event message stamped with the current time.
func NewLedgerEvent(kind string, entryID, envelopeID int64, year, month int) *LedgerEventMessage {
	return &LedgerEventMessage{
		Kind:       kind,
		EntryID:    entryID,
		EnvelopeID: envelopeID,
		Year:       year,
		Month:      month,
		Timestamp:  time.Now(),
	}
}

// ToJSON converts the message to JSON bytes.
func (m *LedgerEventMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// LedgerEventFromJSON creates a message from JSON bytes.
func LedgerEventFromJSON(data []byte) (*LedgerEventMessage, error) {
	var msg LedgerEventMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
