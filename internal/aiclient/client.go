// Package aiclient defines the narrow interface the Decision Engine
// uses to call the large-language-model backend: prompt construction,
// response parsing, an HTTP implementation, and a deterministic fake
// used by pipeline tests and the demo entrypoint in place of a real
// network call to a hosted model.
package aiclient

import (
	"context"
	"fmt"
	"strings"
)

// Client is the capability the Decision Engine needs from an AI
// backend: given a prompt, return its raw text response or an error.
type Client interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Request captures the scalar fields of a RiskSignal the prompt
// template names.
type Request struct {
	ActorID             string
	RiskScore           float64
	RiskFactors         []string
	Action              string
	Role                string
	FrequencyLast60s    int
	GeoChange           bool
	ResourceSensitivity string
}

// BuildPrompt renders the strict, structured prompt the engine sends
// to the AI backend, asking for a bare JSON object.
func BuildPrompt(r Request) string {
	var sb strings.Builder
	sb.WriteString("You are a real-time enterprise risk gatekeeper. Given the signal below, decide whether to allow, throttle, block, or escalate the action.\n\n")
	fmt.Fprintf(&sb, "actor_id: %s\n", r.ActorID)
	fmt.Fprintf(&sb, "risk_score: %.2f\n", r.RiskScore)
	fmt.Fprintf(&sb, "risk_factors: %s\n", strings.Join(r.RiskFactors, ", "))
	fmt.Fprintf(&sb, "action: %s\n", r.Action)
	fmt.Fprintf(&sb, "role: %s\n", r.Role)
	fmt.Fprintf(&sb, "frequency_last_60s: %d\n", r.FrequencyLast60s)
	fmt.Fprintf(&sb, "geo_change: %t\n", r.GeoChange)
	fmt.Fprintf(&sb, "resource_sensitivity: %s\n", r.ResourceSensitivity)
	sb.WriteString("\nRespond with ONLY a JSON object of the form ")
	sb.WriteString(`{"decision": "allow"|"throttle"|"block"|"escalate", "confidence": 0.0-1.0, "reason": "string"}`)
	sb.WriteString(". Do not include any other text.")
	return sb.String()
}
