package events

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestDecodeEnvelope(t *testing.T) {
	ev := TransitionEvent{
		OperationID: "op-1",
		BatchID:     "batch-1",
		FromState:   "awaiting_confirmation",
		ToState:     "confirmed",
		Timestamp:   time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Detail:      "tx 0xabc",
	}

	inner, err := ev.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON failed: %v", err)
	}
	body, err := json.Marshal(map[string]string{
		"Type":    "Notification",
		"Message": string(inner),
	})
	if err != nil {
		t.Fatalf("Marshal envelope failed: %v", err)
	}

	decoded, raw, err := DecodeEnvelope(string(body))
	if err != nil {
		t.Fatalf("DecodeEnvelope failed: %v", err)
	}

	if decoded.OperationID != ev.OperationID || decoded.BatchID != ev.BatchID {
		t.Errorf("Expected ids %s/%s, got %s/%s",
			ev.OperationID, ev.BatchID, decoded.OperationID, decoded.BatchID)
	}
	if decoded.FromState != ev.FromState || decoded.ToState != ev.ToState {
		t.Errorf("Expected states %s->%s, got %s->%s",
			ev.FromState, ev.ToState, decoded.FromState, decoded.ToState)
	}
	if !decoded.Timestamp.Equal(ev.Timestamp) {
		t.Errorf("Expected timestamp %v, got %v", ev.Timestamp, decoded.Timestamp)
	}
	if decoded.Detail != ev.Detail {
		t.Errorf("Expected detail %q, got %q", ev.Detail, decoded.Detail)
	}
	if string(raw) != string(inner) {
		t.Errorf("Expected raw message %s, got %s", inner, raw)
	}
}

func TestDecodeEnvelope_BadBody(t *testing.T) {
	_, _, err := DecodeEnvelope("not json")
	if err == nil {
		t.Fatal("Expected error for malformed envelope")
	}
	if want := "decode sns envelope"; !strings.Contains(err.Error(), want) {
		t.Errorf("Expected %q in error, got %q", want, err.Error())
	}
}

func TestDecodeEnvelope_BadMessage(t *testing.T) {
	body := `{"Type":"Notification","Message":"not a transition"}`
	_, _, err := DecodeEnvelope(body)
	if err == nil {
		t.Fatal("Expected error for malformed message payload")
	}
	if want := "decode transition event"; !strings.Contains(err.Error(), want) {
		t.Errorf("Expected %q in error, got %q", want, err.Error())
	}
}
