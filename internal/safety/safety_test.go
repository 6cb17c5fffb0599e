package safety

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/atelierhq/atelier/internal/conversation"
	"github.com/atelierhq/atelier/pkg/models"
)

func TestNormalize(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Confirm Unlock Welding Bay", "confirm unlock welding bay"},
		{"  confirm   unlock\twelding bay ", "confirm unlock welding bay"},
		{"CANCEL", "cancel"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPhrase(t *testing.T) {
	args := json.RawMessage(`{"entity_id":"lock.welding_bay"}`)
	if got := Phrase("lock.unlock", args); got != "confirm unlock welding bay" {
		t.Errorf("Phrase = %q", got)
	}
	if got := Phrase("power.enable", json.RawMessage(`{"circuit":"spindle_bench"}`)); got != "confirm enable power spindle bench" {
		t.Errorf("Phrase = %q", got)
	}
	if got := Phrase("approve_device", json.RawMessage(`{"device_id":"cam_7"}`)); got != "confirm approve_device cam 7" {
		t.Errorf("Phrase = %q", got)
	}
	if got := Phrase("lock.unlock", nil); got != "confirm unlock" {
		t.Errorf("Phrase without args = %q", got)
	}
}

func TestHazardous(t *testing.T) {
	g := NewGate(0)
	if class, ok := g.Hazardous(models.ToolDefinition{Name: "lock.unlock"}); !ok || class != "physical_access" {
		t.Errorf("lock.unlock: class=%q ok=%v", class, ok)
	}
	if class, ok := g.Hazardous(models.ToolDefinition{Name: "power.enable"}); !ok || class != "electrical" {
		t.Errorf("power.enable: class=%q ok=%v", class, ok)
	}
	if _, ok := g.Hazardous(models.ToolDefinition{Name: "approve_device", RequiresConfirmation: true}); !ok {
		t.Error("tagged tool should be hazardous")
	}
	if _, ok := g.Hazardous(models.ToolDefinition{Name: "web_search"}); ok {
		t.Error("web_search should not be hazardous")
	}
}

func TestHoldAndResolve(t *testing.T) {
	g := NewGate(time.Minute)
	state := &conversation.State{ID: "conv-1"}
	args := json.RawMessage(`{"entity_id":"lock.welding_bay"}`)

	pending := g.Hold(state, "lock.unlock", args, "physical_access", "user asked to unlock")
	if pending.Phrase != "confirm unlock welding bay" {
		t.Fatalf("phrase = %q", pending.Phrase)
	}
	if !state.HasPending() {
		t.Fatal("hold should set the pending slot")
	}

	res, _ := g.Resolve(state, "something else entirely")
	if res != ResolutionReprompt {
		t.Errorf("unrelated prompt: resolution = %v", res)
	}
	if !state.HasPending() {
		t.Error("reprompt should keep the slot")
	}

	res, got := g.Resolve(state, "  Confirm   UNLOCK welding bay ")
	if res != ResolutionConfirmed {
		t.Errorf("phrase match: resolution = %v", res)
	}
	if got.Tool != "lock.unlock" {
		t.Errorf("resolved tool = %q", got.Tool)
	}
	if state.HasPending() {
		t.Error("confirmation should clear the slot")
	}
}

func TestResolveCancel(t *testing.T) {
	g := NewGate(time.Minute)
	for _, token := range []string{"cancel", "Abort", "NO", " stop "} {
		state := &conversation.State{ID: "conv-1"}
		g.Hold(state, "lock.unlock", nil, "physical_access", "")
		res, _ := g.Resolve(state, token)
		if res != ResolutionCancelled {
			t.Errorf("token %q: resolution = %v", token, res)
		}
		if state.HasPending() {
			t.Errorf("token %q: slot should be cleared", token)
		}
	}
}

func TestResolveExpired(t *testing.T) {
	g := NewGate(time.Minute)
	state := &conversation.State{ID: "conv-1"}
	g.Hold(state, "lock.unlock", nil, "physical_access", "")

	g.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	res, _ := g.Resolve(state, "confirm unlock")
	if res != ResolutionExpired {
		t.Errorf("resolution = %v", res)
	}
	if state.HasPending() {
		t.Error("expiry should clear the slot silently")
	}
}

func TestResolveWithoutPending(t *testing.T) {
	g := NewGate(time.Minute)
	state := &conversation.State{ID: "conv-1"}
	if res, _ := g.Resolve(state, "cancel"); res != ResolutionNone {
		t.Errorf("resolution = %v", res)
	}
}
