// Package events carries the operation transition stream: the wire model,
// the pluggable publishers (SNS, log, noop), and the async dispatcher that
// fans transitions out without blocking execution.
package events

import (
	"encoding/json"
	"time"
)

// TransitionEvent records one operation state transition. Field names are
// the wire contract consumed by the downstream event sinks.
type TransitionEvent struct {
	OperationID string    `json:"operationId"`
	BatchID     string    `json:"batchId"`
	FromState   string    `json:"fromState"`
	ToState     string    `json:"toState"`
	Timestamp   time.Time `json:"timestamp"`
	Detail      string    `json:"detail,omitempty"`
}

// ToJSON marshals the event for logging and transport.
func (e TransitionEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}
