// Package signalprocessor implements Stage A: deterministic risk
// scoring and factor tagging of Events, enriched by an injected
// *frequency.Tracker reading when one is available.
package signalprocessor

import (
	"fmt"
	"sort"

	"github.com/redwing-381/moment/internal/models"
)

// ScoringConfig holds the weights, thresholds, and curated tables the
// scoring contract uses.
type ScoringConfig struct {
	NormalFrequencyMax         int
	ElevatedFrequencyThreshold int
	HighFrequencyThreshold     int

	FrequencyWeight   float64
	GeoChangeWeight   float64
	SensitivityWeight float64
	RoleActionWeight  float64

	SensitivityScores map[models.Sensitivity]float64

	// SuspiciousCombinations are (role, action) pairs that alone push
	// role_action_sub to 1.0.
	SuspiciousCombinations map[roleAction]bool

	// ElevatedRoles contribute 0.3 to role_action_sub when the pair is
	// not already a suspicious combination.
	ElevatedRoles map[string]bool

	// SensitiveActions contribute the "sensitive_action_X" tag
	// regardless of role.
	SensitiveActions map[string]bool
}

type roleAction struct {
	Role   string
	Action string
}

// DefaultScoringConfig returns the stock weights, frequency bands,
// sensitivity scores, and curated role/action tables.
func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{
		NormalFrequencyMax:         5,
		ElevatedFrequencyThreshold: 10,
		HighFrequencyThreshold:     20,

		FrequencyWeight:   0.30,
		GeoChangeWeight:   0.25,
		SensitivityWeight: 0.25,
		RoleActionWeight:  0.20,

		SensitivityScores: map[models.Sensitivity]float64{
			models.SensitivityLow:      0.1,
			models.SensitivityMedium:   0.3,
			models.SensitivityHigh:     0.6,
			models.SensitivityCritical: 1.0,
		},

		SuspiciousCombinations: map[roleAction]bool{
			{Role: "developer", Action: "admin_access"}: true,
			{Role: "analyst", Action: "config_change"}:  true,
			{Role: "support", Action: "data_delete"}:    true,
			{Role: "developer", Action: "bulk_export"}:  true,
		},

		ElevatedRoles: map[string]bool{
			"admin":     true,
			"superuser": true,
			"root":      true,
		},

		SensitiveActions: map[string]bool{
			"bulk_export":   true,
			"data_delete":   true,
			"config_change": true,
		},
	}
}

// Processor computes risk scores and factor tags for Events.
type Processor struct {
	cfg ScoringConfig
}

// New constructs a Processor with the given ScoringConfig.
func New(cfg ScoringConfig) *Processor {
	return &Processor{cfg: cfg}
}

func (p *Processor) freqSubscore(frequency int) float64 {
	switch {
	case frequency > p.cfg.HighFrequencyThreshold:
		return 1.0
	case frequency > p.cfg.ElevatedFrequencyThreshold:
		return 0.6
	case frequency > p.cfg.NormalFrequencyMax:
		return 0.3
	default:
		return 0.0
	}
}

func (p *Processor) sensitivitySubscore(s models.Sensitivity) float64 {
	if v, ok := p.cfg.SensitivityScores[s]; ok {
		return v
	}
	return 0.3
}

func (p *Processor) roleActionSubscore(role, action string) float64 {
	if p.cfg.SuspiciousCombinations[roleAction{Role: role, Action: action}] {
		return 1.0
	}
	if p.cfg.ElevatedRoles[role] {
		return 0.3
	}
	return 0.0
}

// Score computes the weighted risk score for an event, using
// realFrequency (the FrequencyTracker reading) when provided (>= 0),
// else falling back to the event's own client-observed
// FrequencyLast60s field.
func (p *Processor) Score(e models.Event, realFrequency int) float64 {
	frequency := realFrequency
	if frequency < 0 {
		frequency = e.FrequencyLast60s
	}

	score := p.cfg.FrequencyWeight*p.freqSubscore(frequency) +
		p.cfg.GeoChangeWeight*geoSubscore(e.GeoChange) +
		p.cfg.SensitivityWeight*p.sensitivitySubscore(e.ResourceSensitivity) +
		p.cfg.RoleActionWeight*p.roleActionSubscore(e.Role, e.Action)

	return models.ClampScore(score)
}

func geoSubscore(geoChange bool) float64 {
	if geoChange {
		return 1.0
	}
	return 0.0
}

// RiskFactors returns the informational tag strings describing which
// subscores fired. Tags are purely informational: decisions must not
// rely on tag presence beyond what the numeric score already encodes.
func (p *Processor) RiskFactors(e models.Event, realFrequency int) []string {
	frequency := realFrequency
	if frequency < 0 {
		frequency = e.FrequencyLast60s
	}

	var factors []string

	switch {
	case frequency > p.cfg.HighFrequencyThreshold:
		factors = append(factors, fmt.Sprintf("high_frequency_activity (%d/min)", frequency))
	case frequency > p.cfg.ElevatedFrequencyThreshold:
		factors = append(factors, fmt.Sprintf("elevated_frequency (%d/min)", frequency))
	}

	if e.GeoChange {
		factors = append(factors, "geographic_anomaly")
	}

	if e.ResourceSensitivity == models.SensitivityHigh || e.ResourceSensitivity == models.SensitivityCritical {
		factors = append(factors, fmt.Sprintf("sensitive_resource_%s", e.ResourceSensitivity))
	}

	if p.cfg.SuspiciousCombinations[roleAction{Role: e.Role, Action: e.Action}] {
		factors = append(factors, "suspicious_role_action_combination")
	}

	if p.cfg.ElevatedRoles[e.Role] {
		factors = append(factors, "elevated_privileges")
	}

	if p.cfg.SensitiveActions[e.Action] {
		factors = append(factors, fmt.Sprintf("sensitive_action_%s", e.Action))
	}

	sort.Strings(factors)
	return factors
}
