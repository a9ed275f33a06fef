package outbox

import (
	"encoding/json"
	"time"
)

// Actor identifies what produced the event: the scheduler, an operator, or
// the external billing integration.
type Actor struct {
	Kind string `json:"kind"`
	ID   string `json:"id,omitempty"`
}

const (
	ActorScheduler = "scheduler"
	ActorOperator  = "operator"
	ActorBilling   = "billing"
)

// PayloadEnvelope is the stable payload structure stored in outbox_events.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Actor      *Actor          `json:"actor,omitempty"`
	Data       json.RawMessage `json:"data"`
}
