package queue

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Item is the unit stored in and moved through a queue. The zero payload is
// valid; the queue never inspects it.
type Item struct {
	ID        string          `json:"id"`
	QueueType string          `json:"queue_type"`
	SentAt    time.Time       `json:"sent_at"`
	VisibleAt time.Time       `json:"visible_at"`
	Attempts  int             `json:"attempts"`
	Payload   json.RawMessage `json:"payload"`
}

// UnmarshalPayload decodes the item payload into v.
func (it *Item) UnmarshalPayload(v any) error {
	return json.Unmarshal(it.Payload, v)
}

// newItemID returns a store-assigned item id. UUIDv7 ids sort by creation
// time, so the id doubles as the item's sent-at timestamp.
func newItemID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// sentAtFromID recovers the creation time embedded in a UUIDv7 item id.
// Returns the zero time for ids without an embedded timestamp.
func sentAtFromID(id string) time.Time {
	u, err := uuid.Parse(id)
	if err != nil || u.Version() != 7 {
		return time.Time{}
	}
	sec, nsec := u.Time().UnixTime()
	return time.Unix(sec, nsec).UTC()
}

func itemFromRecord(rec Record) *Item {
	return &Item{
		ID:        rec.ID,
		QueueType: rec.QueueType,
		SentAt:    sentAtFromID(rec.ID),
		VisibleAt: rec.VisibleAt,
		Attempts:  rec.Attempts,
		Payload:   json.RawMessage(rec.Payload),
	}
}
