package events

import "encoding/json"

// Wire protocol between the notification gateway and its clients. Events are
// carried in a structured envelope addressed by (batchId, kind); the topic is
// parsed once at ingestion and dispatched by the typed discriminant, never by
// matching event-name strings.

// Envelope is one server-to-client wire event.
type Envelope struct {
	BatchID string          `json:"batchId"`
	Kind    Kind            `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// NewEnvelope builds an envelope for a topic, serializing the payload.
func NewEnvelope(topic Topic, payload interface{}) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{BatchID: topic.BatchID, Kind: topic.Kind, Payload: raw}, nil
}

// Client-to-server operations.
const (
	OpJoin  = "join"
	OpLeave = "leave"
)

// ClientOp is one client-to-server control message: join or leave the
// event streams of a batch.
type ClientOp struct {
	Op      string `json:"op"`
	BatchID string `json:"batchId"`
}
