package protocol

import (
	"encoding/json"
	"testing"
)

func TestMessage_PriorityByType(t *testing.T) {
	cases := []struct {
		msg  Message
		want Priority
	}{
		{New(TypeConnected, nil), PriorityHigh},
		{New(TypePing, nil), PriorityHigh},
		{New(TypePong, nil), PriorityHigh},
		{NewSessionUpdate("waiting", nil), PriorityHigh},
		{NewSessionUpdate("error", nil), PriorityHigh},
		{NewSessionUpdate("working", nil), PriorityNormal},
		{NewSessionUpdate("idle", nil), PriorityNormal},
		{New(TypeWindows, nil), PriorityNormal},
		{New(TypePaneUpdate, nil), PriorityNormal},
		{New(TypeTerminalDiff, nil), PriorityNormal},
		{New(TypeTerminalOutput, nil), PriorityNormal},
		{New(TypeCompanionUpdate, nil), PriorityNormal},
		{New(TypeEvent, nil), PriorityLow},
		{New(TypeDebug, nil), PriorityLow},
	}
	for _, tc := range cases {
		if got := tc.msg.Priority(); got != tc.want {
			t.Fatalf("priority(%s/%s) = %d, want %d", tc.msg.Type, tc.msg.Status, got, tc.want)
		}
	}
}

func TestMessage_EncodeFlattensPayload(t *testing.T) {
	msg := New(TypeTerminalDiff, map[string]any{
		"paneId": "%3",
		"target": "main:0.1",
		"seq":    7,
	})
	b, err := msg.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out["type"] != "terminal_diff" || out["paneId"] != "%3" || out["seq"] != float64(7) {
		t.Fatalf("unexpected wire form: %v", out)
	}
}

func TestMessage_EncodeSessionUpdateCarriesStatus(t *testing.T) {
	b, err := NewSessionUpdate("waiting", map[string]any{"paneId": "%1"}).Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out["status"] != "waiting" {
		t.Fatalf("status missing from wire form: %v", out)
	}
}
