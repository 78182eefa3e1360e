package adapters

import (
	"context"
	"testing"

	"github.com/tinyland-inc/clawbridge/pkg/bridge"
)

func TestIsAllowedEmptyListAllowsEveryone(t *testing.T) {
	a := NewBaseAdapter("test", nil, nil)
	if !a.IsAllowed("anyone") {
		t.Error("empty allowlist should allow all senders")
	}
}

func TestIsAllowedCompoundForms(t *testing.T) {
	a := NewBaseAdapter("test", []string{"123456", "@alice", "789|bob"}, nil)

	tests := []struct {
		sender string
		want   bool
	}{
		{"123456", true},
		{"123456|carol", true},
		{"alice", true},
		{"999|alice", true},
		{"789", true},
		{"789|bob", true},
		{"bob", true}, // username side of a compound entry matches alone
		{"999999", false},
		{"999|mallory", false},
	}
	for _, tt := range tests {
		if got := a.IsAllowed(tt.sender); got != tt.want {
			t.Errorf("IsAllowed(%q) = %v, want %v", tt.sender, got, tt.want)
		}
	}
}

func TestDeliverGatesOnAllowlist(t *testing.T) {
	var delivered []bridge.InboundEnvelope
	handler := func(ctx context.Context, env bridge.InboundEnvelope) {
		delivered = append(delivered, env)
	}
	a := NewBaseAdapter("test", []string{"123"}, handler)

	a.Deliver(context.Background(), bridge.InboundEnvelope{UserID: "123"})
	a.Deliver(context.Background(), bridge.InboundEnvelope{UserID: "456"})

	if len(delivered) != 1 || delivered[0].UserID != "123" {
		t.Fatalf("delivered = %v", delivered)
	}
}

func TestButtonDataRoundTrip(t *testing.T) {
	b := bridge.Button{Label: "Allow Once", ActionID: "perm", Value: "once:req-1"}
	encoded := encodeButtonData(b)
	actionID, value := decodeButtonData(encoded)
	if actionID != "perm" || value != "once:req-1" {
		t.Errorf("round trip = (%q, %q)", actionID, value)
	}

	actionID, value = decodeButtonData(encodeButtonData(bridge.Button{ActionID: "backlog", Value: "all"}))
	if actionID != "backlog" || value != "all" {
		t.Errorf("round trip = (%q, %q)", actionID, value)
	}
}
