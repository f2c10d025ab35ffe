package aiclient

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse_PlainJSON(t *testing.T) {
	p := Parse(`{"decision":"throttle","confidence":0.75,"reason":"elevated risk"}`)
	assert.False(t, p.Malformed)
	assert.Equal(t, "throttle", p.Decision)
	assert.Equal(t, 0.75, p.Confidence)
	assert.Equal(t, "elevated risk", p.Reason)
}

func TestParse_StripsCodeFence(t *testing.T) {
	p := Parse("```json\n{\"decision\":\"allow\",\"confidence\":0.9,\"reason\":\"low risk\"}\n```")
	assert.False(t, p.Malformed)
	assert.Equal(t, "allow", p.Decision)
}

func TestParse_StripsBareCodeFence(t *testing.T) {
	p := Parse("```\n{\"decision\":\"block\",\"confidence\":0.95,\"reason\":\"critical\"}\n```")
	assert.False(t, p.Malformed)
	assert.Equal(t, "block", p.Decision)
}

func TestParse_UnknownDecisionCoercesToEscalate(t *testing.T) {
	p := Parse(`{"decision":"deny","confidence":0.5,"reason":"unsure"}`)
	assert.False(t, p.Malformed)
	assert.Equal(t, "escalate", p.Decision)
}

func TestParse_ClampsConfidence(t *testing.T) {
	high := Parse(`{"decision":"allow","confidence":1.5,"reason":"x"}`)
	assert.Equal(t, 1.0, high.Confidence)

	low := Parse(`{"decision":"allow","confidence":-0.5,"reason":"x"}`)
	assert.Equal(t, 0.0, low.Confidence)
}

func TestParse_InvalidJSONIsMalformed(t *testing.T) {
	p := Parse("not json at all")
	assert.True(t, p.Malformed)
}

func TestParse_CaseInsensitiveDecision(t *testing.T) {
	p := Parse(`{"decision":"ALLOW","confidence":0.8,"reason":"ok"}`)
	assert.Equal(t, "allow", p.Decision)
}

func TestBuildPrompt_IncludesAllFields(t *testing.T) {
	prompt := BuildPrompt(Request{
		ActorID: "actor-42", RiskScore: 0.65, RiskFactors: []string{"geographic_anomaly"},
		Action: "bulk_export", Role: "developer", FrequencyLast60s: 12,
		GeoChange: true, ResourceSensitivity: "high",
	})

	assert.Contains(t, prompt, "actor-42")
	assert.Contains(t, prompt, "0.65")
	assert.Contains(t, prompt, "geographic_anomaly")
	assert.Contains(t, prompt, "bulk_export")
	assert.Contains(t, prompt, "developer")
	assert.Contains(t, prompt, "JSON")
}
