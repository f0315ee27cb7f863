package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestEventType(t *testing.T) {
	tests := []struct {
		name      string
		eventType EventType
		expected  string
	}{
		{name: "welcome", eventType: EventTypeWelcome, expected: "welcome"},
		{name: "status", eventType: EventTypeStatus, expected: "status"},
		{name: "qr", eventType: EventTypeQR, expected: "qr"},
		{name: "new_message", eventType: EventTypeNewMessage, expected: "new_message"},
		{name: "message_ack", eventType: EventTypeMessageAck, expected: "message_ack"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if string(tt.eventType) != tt.expected {
				t.Errorf("Expected %q, got %q", tt.expected, tt.eventType)
			}
		})
	}
}

func TestNewStatusEvent(t *testing.T) {
	status := SessionStatus{State: StateConnected, RetryCount: 0}
	event := NewStatusEvent(status)

	if event.Type != EventTypeStatus {
		t.Errorf("Expected type %q, got %q", EventTypeStatus, event.Type)
	}
	got, ok := event.Data.(SessionStatus)
	if !ok {
		t.Fatalf("Expected SessionStatus data, got %T", event.Data)
	}
	if got.State != StateConnected {
		t.Errorf("Expected state connected, got %q", got.State)
	}
	if event.Timestamp.IsZero() {
		t.Error("Expected timestamp to be set")
	}
}

func TestEventJSONShape(t *testing.T) {
	event := NewMessageEvent(MessageEnvelope{
		Message: &Message{ID: "m1", Direction: DirectionIn, Body: "bonjour"},
	})

	raw, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["event"] != "new_message" {
		t.Errorf("Expected event field new_message, got %v", decoded["event"])
	}
	data, ok := decoded["data"].(map[string]any)
	if !ok {
		t.Fatalf("Expected data object, got %T", decoded["data"])
	}
	if _, ok := data["message"]; !ok {
		t.Error("Expected data.message to be present")
	}
}

func TestSessionStateIsActive(t *testing.T) {
	tests := []struct {
		state  SessionState
		active bool
	}{
		{StateUninitialized, false},
		{StateLaunching, true},
		{StateAwaitingPairing, true},
		{StateConnected, true},
		{StateReconnecting, true},
		{StateTerminated, false},
		{StateFailed, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			if got := tt.state.IsActive(); got != tt.active {
				t.Errorf("IsActive() = %v, want %v", got, tt.active)
			}
		})
	}
}

func TestPairingStaleAt(t *testing.T) {
	now := time.Now()
	p := Pairing{Payload: "P1", IssuedAt: now, ExpiresAt: now.Add(20 * time.Second)}

	if p.StaleAt(now.Add(10 * time.Second)) {
		t.Error("Expected payload to be fresh before expiry")
	}
	if !p.StaleAt(now.Add(20 * time.Second)) {
		t.Error("Expected payload to be stale at expiry")
	}
	if (Pairing{}).IsZero() != true {
		t.Error("Expected empty pairing to be zero")
	}
}

func TestDeliveryStateIsTerminal(t *testing.T) {
	if DeliveryQueued.IsTerminal() {
		t.Error("queued must not be terminal")
	}
	for _, s := range []DeliveryState{DeliverySent, DeliveryDelivered, DeliveryFailed} {
		if !s.IsTerminal() {
			t.Errorf("%s must be terminal", s)
		}
	}
}

func TestTypedErrors(t *testing.T) {
	cause := errors.New("executable not found")
	launchErr := error(&LaunchError{Cause: cause})

	if !errors.Is(launchErr, ErrLaunch) {
		t.Error("LaunchError should match ErrLaunch")
	}
	if !errors.Is(launchErr, cause) {
		t.Error("LaunchError should unwrap to its cause")
	}

	stateErr := fmt.Errorf("refresh qr: %w", &InvalidStateError{Op: "requestNewPairing", State: StateConnected})
	if !errors.Is(stateErr, ErrInvalidState) {
		t.Error("InvalidStateError should match ErrInvalidState")
	}
	var ise *InvalidStateError
	if !errors.As(stateErr, &ise) {
		t.Fatal("expected errors.As to find InvalidStateError")
	}
	if ise.State != StateConnected {
		t.Errorf("Expected state connected, got %q", ise.State)
	}
}

func TestBackendEventConstructors(t *testing.T) {
	ack := NewAckEvent("c1", DeliverySent)
	if ack.Kind != BackendAck || ack.Ack == nil || ack.Ack.CorrelationID != "c1" {
		t.Errorf("unexpected ack event: %+v", ack)
	}

	in := NewInboundEvent(InboundMessage{ID: "i1", From: "33600000000@c.us"})
	if in.Kind != BackendInbound || in.Inbound == nil || in.Inbound.ID != "i1" {
		t.Errorf("unexpected inbound event: %+v", in)
	}
}
