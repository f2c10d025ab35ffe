package signalprocessor

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/redwing-381/moment/internal/models"
)

func baseEvent() models.Event {
	return models.Event{
		ActorID:             "actor-1",
		Action:              "read_record",
		Role:                "employee",
		ResourceSensitivity: models.SensitivityLow,
	}
}

func TestScore_LowRiskBaseline(t *testing.T) {
	p := New(DefaultScoringConfig())
	e := baseEvent()
	score := p.Score(e, 1)
	assert.Less(t, score, 0.3)
}

func TestScore_HighFrequencyRaisesScore(t *testing.T) {
	p := New(DefaultScoringConfig())
	e := baseEvent()
	low := p.Score(e, 1)
	high := p.Score(e, 25)
	assert.Greater(t, high, low)
}

func TestScore_GeoChangeRaisesScore(t *testing.T) {
	p := New(DefaultScoringConfig())
	e := baseEvent()
	without := p.Score(e, 1)
	e.GeoChange = true
	with := p.Score(e, 1)
	assert.Greater(t, with, without)
}

func TestScore_CriticalSensitivityDominates(t *testing.T) {
	p := New(DefaultScoringConfig())
	e := baseEvent()
	e.ResourceSensitivity = models.SensitivityCritical
	score := p.Score(e, 1)
	assert.GreaterOrEqual(t, score, 0.25)
}

func TestScore_SuspiciousCombinationMaxesRoleActionSubscore(t *testing.T) {
	p := New(DefaultScoringConfig())
	e := baseEvent()
	e.Role = "developer"
	e.Action = "admin_access"
	score := p.Score(e, 1)

	other := baseEvent()
	score2 := p.Score(other, 1)
	assert.Greater(t, score, score2)
}

func TestScore_GeoCriticalHighFrequencyScoresAtLeastPoint8(t *testing.T) {
	p := New(DefaultScoringConfig())
	e := baseEvent()
	e.GeoChange = true
	e.ResourceSensitivity = models.SensitivityCritical
	score := p.Score(e, 21)
	assert.GreaterOrEqual(t, score, 0.8-1e-9)
}

func TestScore_ClampedToOne(t *testing.T) {
	p := New(DefaultScoringConfig())
	e := baseEvent()
	e.GeoChange = true
	e.ResourceSensitivity = models.SensitivityCritical
	e.Role = "developer"
	e.Action = "admin_access"
	score := p.Score(e, 100)
	assert.LessOrEqual(t, score, 1.0)
}

func TestRiskFactors_TagsHighFrequency(t *testing.T) {
	p := New(DefaultScoringConfig())
	e := baseEvent()
	factors := p.RiskFactors(e, 25)
	assert.Contains(t, factors, "high_frequency_activity (25/min)")
}

func TestRiskFactors_TagsElevatedFrequency(t *testing.T) {
	p := New(DefaultScoringConfig())
	e := baseEvent()
	factors := p.RiskFactors(e, 12)
	assert.Contains(t, factors, "elevated_frequency (12/min)")
}

func TestRiskFactors_TagsGeoAnomaly(t *testing.T) {
	p := New(DefaultScoringConfig())
	e := baseEvent()
	e.GeoChange = true
	factors := p.RiskFactors(e, 1)
	assert.Contains(t, factors, "geographic_anomaly")
}

func TestRiskFactors_TagsSensitiveResource(t *testing.T) {
	p := New(DefaultScoringConfig())
	e := baseEvent()
	e.ResourceSensitivity = models.SensitivityHigh
	factors := p.RiskFactors(e, 1)
	assert.Contains(t, factors, "sensitive_resource_high")
}

func TestRiskFactors_TagsSuspiciousCombination(t *testing.T) {
	p := New(DefaultScoringConfig())
	e := baseEvent()
	e.Role = "analyst"
	e.Action = "config_change"
	factors := p.RiskFactors(e, 1)
	assert.Contains(t, factors, "suspicious_role_action_combination")
	assert.Contains(t, factors, "sensitive_action_config_change")
}

func TestRiskFactors_TagsElevatedPrivileges(t *testing.T) {
	p := New(DefaultScoringConfig())
	e := baseEvent()
	e.Role = "admin"
	factors := p.RiskFactors(e, 1)
	assert.Contains(t, factors, "elevated_privileges")
}

func TestRiskFactors_SortedOutput(t *testing.T) {
	p := New(DefaultScoringConfig())
	e := baseEvent()
	e.Role = "admin"
	e.GeoChange = true
	factors := p.RiskFactors(e, 25)
	for i := 1; i < len(factors); i++ {
		assert.LessOrEqual(t, factors[i-1], factors[i])
	}
}

func TestRiskFactors_NoFactorsForBenignEvent(t *testing.T) {
	p := New(DefaultScoringConfig())
	e := baseEvent()
	factors := p.RiskFactors(e, 1)
	assert.Empty(t, factors)
}
