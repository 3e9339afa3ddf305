package stream

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestToolResultEventCarriesFailureOnWire(t *testing.T) {
	failed := false
	evt := Event{Type: EventToolResult, ToolID: "t1", Success: &failed, Error: "exit status 1"}

	payload, err := json.Marshal(evt)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(payload), `"success":false`) {
		t.Fatalf("failed tool result must serialize success:false, got %s", payload)
	}

	ok := true
	evt = Event{Type: EventToolResult, ToolID: "t1", Success: &ok, ToolOutput: "main.go"}
	payload, err = json.Marshal(evt)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(payload), `"success":true`) {
		t.Fatalf("successful tool result must serialize success:true, got %s", payload)
	}
}

func TestNonToolEventsOmitSuccess(t *testing.T) {
	payload, err := json.Marshal(Event{Type: EventStatus, Status: "planning"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(payload), "success") {
		t.Fatalf("status event should not carry a success field: %s", payload)
	}
}
