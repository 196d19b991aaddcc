// Package policy loads and validates scoring policies.
package policy

import (
	"fmt"
	"os"

	"github.com/opensource-finance/sentinel/internal/domain"
	"gopkg.in/yaml.v3"
)

// policyDoc is the on-disk YAML shape. Unknown keys are ignored; absent
// keys take the documented defaults.
type policyDoc struct {
	Thresholds          map[string]int       `yaml:"thresholds"`
	BusinessHours       *domain.BusinessHours `yaml:"business_hours"`
	HighRiskCountries   []string             `yaml:"high_risk_countries"`
	GeoJumpKm           *float64             `yaml:"geo_jump_km"`
	LargeTransferAmount *float64             `yaml:"large_transfer_amount"`
	PrivilegedRoles     []string             `yaml:"privileged_roles"`
	CustomRules         []domain.CustomRule  `yaml:"custom_rules"`
}

// LoadFile reads and validates a policy from a YAML file.
func LoadFile(path string) (*domain.Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &domain.MalformedPolicyError{Reason: "cannot read policy file", Err: err}
	}
	return Load(data)
}

// Load parses and validates a policy from YAML bytes.
func Load(data []byte) (*domain.Policy, error) {
	var doc policyDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &domain.MalformedPolicyError{Reason: "cannot parse policy YAML", Err: err}
	}

	p := domain.DefaultPolicy()

	if doc.Thresholds != nil {
		p.Thresholds = doc.Thresholds
	}
	if doc.BusinessHours != nil {
		p.BusinessHours = *doc.BusinessHours
	}
	if doc.HighRiskCountries != nil {
		p.HighRiskCountries = toSet(doc.HighRiskCountries)
	}
	if doc.GeoJumpKm != nil {
		p.GeoJumpKm = *doc.GeoJumpKm
	}
	if doc.LargeTransferAmount != nil {
		p.LargeTransferAmount = *doc.LargeTransferAmount
	}
	if doc.PrivilegedRoles != nil {
		p.PrivilegedRoles = toSet(doc.PrivilegedRoles)
	}
	p.CustomRules = doc.CustomRules

	if err := Validate(p); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate checks structural requirements. Fatal before any scoring.
func Validate(p *domain.Policy) error {
	if p.BusinessHours.Start < 0 || p.BusinessHours.Start > 23 {
		return &domain.MalformedPolicyError{
			Reason: fmt.Sprintf("business_hours.start %d out of range 0-23", p.BusinessHours.Start),
		}
	}
	if p.BusinessHours.End < 0 || p.BusinessHours.End > 23 {
		return &domain.MalformedPolicyError{
			Reason: fmt.Sprintf("business_hours.end %d out of range 0-23", p.BusinessHours.End),
		}
	}
	if p.GeoJumpKm <= 0 {
		return &domain.MalformedPolicyError{
			Reason: fmt.Sprintf("geo_jump_km must be positive, got %g", p.GeoJumpKm),
		}
	}
	if p.LargeTransferAmount < 0 {
		return &domain.MalformedPolicyError{
			Reason: fmt.Sprintf("large_transfer_amount must be non-negative, got %g", p.LargeTransferAmount),
		}
	}
	if p.RulesAlertThreshold() < 1 {
		return &domain.MalformedPolicyError{
			Reason: fmt.Sprintf("thresholds.rules_alert must be at least 1, got %d", p.RulesAlertThreshold()),
		}
	}
	for i, cr := range p.CustomRules {
		if cr.Code == "" || cr.Expression == "" {
			return &domain.MalformedPolicyError{
				Reason: fmt.Sprintf("custom_rules[%d]: code and expression are required", i),
			}
		}
	}
	return nil
}

func toSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}
