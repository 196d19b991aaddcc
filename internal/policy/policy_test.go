package policy

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/opensource-finance/sentinel/internal/domain"
)

const fullPolicy = `
thresholds:
  rules_alert: 3
business_hours:
  start: 7
  end: 19
high_risk_countries: [KP, IR, RU]
geo_jump_km: 2000
large_transfer_amount: 80000
privileged_roles: [admin, ops]
custom_rules:
  - code: NIGHT_MOBILE_RESET
    expression: "event_type == 'password_reset' && channel == 'mobile' && off_hours == 1"
`

func TestLoadFullPolicy(t *testing.T) {
	p, err := Load([]byte(fullPolicy))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if p.RulesAlertThreshold() != 3 {
		t.Errorf("rules_alert = %d, want 3", p.RulesAlertThreshold())
	}
	if p.BusinessHours.Start != 7 || p.BusinessHours.End != 19 {
		t.Errorf("business hours = %+v", p.BusinessHours)
	}
	if !p.HighRiskCountries["RU"] || p.HighRiskCountries["GB"] {
		t.Errorf("high risk countries = %v", p.HighRiskCountries)
	}
	if p.GeoJumpKm != 2000 || p.LargeTransferAmount != 80000 {
		t.Errorf("thresholds = %g / %g", p.GeoJumpKm, p.LargeTransferAmount)
	}
	if !p.PrivilegedRoles["ops"] || p.PrivilegedRoles["supervisor"] {
		t.Errorf("privileged roles = %v", p.PrivilegedRoles)
	}
	if len(p.CustomRules) != 1 || p.CustomRules[0].Code != "NIGHT_MOBILE_RESET" {
		t.Errorf("custom rules = %+v", p.CustomRules)
	}
}

func TestLoadEmptyUsesDefaults(t *testing.T) {
	p, err := Load([]byte("{}"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	def := domain.DefaultPolicy()
	if p.RulesAlertThreshold() != def.RulesAlertThreshold() {
		t.Errorf("rules_alert = %d, want default %d", p.RulesAlertThreshold(), def.RulesAlertThreshold())
	}
	if p.BusinessHours != def.BusinessHours {
		t.Errorf("business hours = %+v, want %+v", p.BusinessHours, def.BusinessHours)
	}
	if p.GeoJumpKm != def.GeoJumpKm {
		t.Errorf("geo_jump_km = %g, want %g", p.GeoJumpKm, def.GeoJumpKm)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"bad yaml", "business_hours: ["},
		{"hour out of range", "business_hours: {start: 25, end: 18}"},
		{"negative geo jump", "geo_jump_km: -5"},
		{"negative transfer", "large_transfer_amount: -1"},
		{"zero alert threshold", "thresholds: {rules_alert: 0}"},
		{"custom rule missing code", "custom_rules: [{expression: 'amount > 0.0'}]"},
		{"custom rule missing expression", "custom_rules: [{code: X}]"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load([]byte(tc.yaml))
			var malformed *domain.MalformedPolicyError
			if !errors.As(err, &malformed) {
				t.Fatalf("expected MalformedPolicyError, got %v", err)
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	if err := os.WriteFile(path, []byte(fullPolicy), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	p, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load file: %v", err)
	}
	if p.GeoJumpKm != 2000 {
		t.Errorf("geo_jump_km = %g, want 2000", p.GeoJumpKm)
	}

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	var malformed *domain.MalformedPolicyError
	if !errors.As(err, &malformed) {
		t.Fatalf("expected MalformedPolicyError for missing file, got %v", err)
	}
}

func TestOvernightBusinessHours(t *testing.T) {
	p, err := Load([]byte("business_hours: {start: 22, end: 6}"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if p.IsOffHours(23) || p.IsOffHours(3) {
		t.Error("hours inside the overnight window flagged as off hours")
	}
	if !p.IsOffHours(12) {
		t.Error("midday should be off hours for an overnight window")
	}
}
