package events

import (
	"encoding/json"
	"fmt"
)

// snsEnvelope is the notification wrapper SNS puts around a message when it
// delivers to an SQS subscription without raw message delivery.
type snsEnvelope struct {
	Message string `json:"Message"`
}

// DecodeEnvelope parses an SQS record body from the transition topic: an SNS
// envelope wrapping a TransitionEvent. The raw message bytes come back
// alongside the parsed event so sinks can forward exactly what the engine
// published.
func DecodeEnvelope(body string) (TransitionEvent, []byte, error) {
	var env snsEnvelope
	if err := json.Unmarshal([]byte(body), &env); err != nil {
		return TransitionEvent{}, nil, fmt.Errorf("decode sns envelope: %w", err)
	}

	var ev TransitionEvent
	if err := json.Unmarshal([]byte(env.Message), &ev); err != nil {
		return TransitionEvent{}, nil, fmt.Errorf("decode transition event: %w", err)
	}

	return ev, []byte(env.Message), nil
}
