// Package safety implements the confirmation gate for hazardous
// actions: phrase generation, normalized matching, cancel tokens, and
// the hold/resolve cycle on conversation state.
package safety

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/atelierhq/atelier/internal/conversation"
	"github.com/atelierhq/atelier/pkg/models"
)

// DefaultTTL bounds how long a pending confirmation stays valid.
const DefaultTTL = 5 * time.Minute

// hazardousTools always require confirmation regardless of tags.
var hazardousTools = map[string]string{
	"lock.unlock":  "physical_access",
	"power.enable": "electrical",
}

// cancelTokens abort a pending confirmation.
var cancelTokens = map[string]bool{
	"cancel": true,
	"abort":  true,
	"no":     true,
	"stop":   true,
}

// Resolution is the outcome of evaluating a prompt against a pending
// confirmation.
type Resolution int

const (
	// ResolutionNone means no pending confirmation exists.
	ResolutionNone Resolution = iota
	// ResolutionConfirmed means the prompt matched the required phrase.
	ResolutionConfirmed
	// ResolutionCancelled means the prompt matched a cancel token.
	ResolutionCancelled
	// ResolutionReprompt means neither matched; re-present the phrase.
	ResolutionReprompt
	// ResolutionExpired means the hold was past its TTL; routing
	// continues as if no hold existed.
	ResolutionExpired
)

// Gate evaluates hazard classification and confirmation matching.
type Gate struct {
	ttl time.Duration
	now func() time.Time
}

// NewGate creates a gate with the given TTL (DefaultTTL when zero).
func NewGate(ttl time.Duration) *Gate {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Gate{ttl: ttl, now: time.Now}
}

// Hazardous reports whether a tool must be confirmation-gated, and the
// hazard class when it is.
func (g *Gate) Hazardous(def models.ToolDefinition) (string, bool) {
	if class, ok := hazardousTools[def.Name]; ok {
		return class, true
	}
	if def.RequiresConfirmation {
		return "tagged", true
	}
	return "", false
}

// Hold stores a pending confirmation on the conversation and returns
// it. A prior hold is replaced.
func (g *Gate) Hold(state *conversation.State, tool string, args json.RawMessage, hazardClass, reason string) conversation.PendingConfirmation {
	pending := conversation.PendingConfirmation{
		Tool:        tool,
		Args:        args,
		Phrase:      Phrase(tool, args),
		HazardClass: hazardClass,
		Reason:      reason,
		ExpiresAt:   g.now().Add(g.ttl),
	}
	state.SetPendingConfirmation(pending)
	return pending
}

// Resolve evaluates the turn's prompt against the conversation's
// pending slot. Confirmed and Cancelled clear the slot; Expired clears
// it silently so the prompt routes normally.
func (g *Gate) Resolve(state *conversation.State, prompt string) (Resolution, conversation.PendingConfirmation) {
	pending, ok := state.Pending()
	if !ok {
		return ResolutionNone, conversation.PendingConfirmation{}
	}
	if g.now().After(pending.ExpiresAt) {
		state.ClearPending()
		return ResolutionExpired, pending
	}

	normalized := Normalize(prompt)
	if cancelTokens[normalized] {
		state.ClearPending()
		return ResolutionCancelled, pending
	}
	if normalized == Normalize(pending.Phrase) {
		state.ClearPending()
		return ResolutionConfirmed, pending
	}
	return ResolutionReprompt, pending
}

// Normalize lowercases and collapses runs of whitespace so phrase
// comparison is verbatim modulo case and spacing.
func Normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// Phrase builds the required confirmation phrase for a tool call, e.g.
// "confirm unlock welding bay" for lock.unlock on the welding bay.
func Phrase(tool string, args json.RawMessage) string {
	target := targetFromArgs(args)
	switch tool {
	case "lock.unlock":
		if target != "" {
			return "confirm unlock " + target
		}
		return "confirm unlock"
	case "power.enable":
		if target != "" {
			return "confirm enable power " + target
		}
		return "confirm enable power"
	default:
		if target != "" {
			return "confirm " + tool + " " + target
		}
		return "confirm " + tool
	}
}

// targetFromArgs extracts a human-readable target from tool arguments,
// trying the well-known identifier fields in order.
func targetFromArgs(args json.RawMessage) string {
	if len(args) == 0 {
		return ""
	}
	var fields map[string]any
	if err := json.Unmarshal(args, &fields); err != nil {
		return ""
	}
	for _, key := range []string{"entity_id", "circuit", "device_id", "name"} {
		if v, ok := fields[key].(string); ok && v != "" {
			return humanize(v)
		}
	}
	return ""
}

// humanize strips a domain prefix like "lock." and turns underscores
// into spaces: "lock.welding_bay" becomes "welding bay".
func humanize(id string) string {
	if i := strings.IndexByte(id, '.'); i >= 0 {
		id = id[i+1:]
	}
	return strings.ReplaceAll(id, "_", " ")
}
