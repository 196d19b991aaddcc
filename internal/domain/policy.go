package domain

// Policy is the immutable structured view of scoring configuration.
// It is loaded once per run and shared read-only across concurrent
// scoring calls.
type Policy struct {
	Thresholds          map[string]int  `yaml:"thresholds" json:"thresholds"`
	BusinessHours       BusinessHours   `yaml:"business_hours" json:"businessHours"`
	HighRiskCountries   map[string]bool `yaml:"-" json:"-"`
	GeoJumpKm           float64         `yaml:"geo_jump_km" json:"geoJumpKm"`
	LargeTransferAmount float64         `yaml:"large_transfer_amount" json:"largeTransferAmount"`
	PrivilegedRoles     map[string]bool `yaml:"-" json:"-"`

	// CustomRules are optional CEL expressions evaluated after the
	// built-in rules, in declaration order.
	CustomRules []CustomRule `yaml:"custom_rules" json:"customRules,omitempty"`
}

// BusinessHours is the inside-hours interval [Start, End). End < Start
// expresses an overnight window.
type BusinessHours struct {
	Start int `yaml:"start" json:"start"`
	End   int `yaml:"end" json:"end"`
}

// CustomRule is a policy-defined rule: a CEL expression over the event and
// feature variables that yields a boolean. When it evaluates true, Code is
// appended to the event's reasons.
type CustomRule struct {
	Code       string `yaml:"code" json:"code"`
	Expression string `yaml:"expression" json:"expression"`
}

// RulesAlertThreshold returns thresholds["rules_alert"], defaulting to 2.
func (p *Policy) RulesAlertThreshold() int {
	if p.Thresholds != nil {
		if v, ok := p.Thresholds["rules_alert"]; ok {
			return v
		}
	}
	return 2
}

// IsOffHours reports whether hour falls outside the business-hour window,
// handling the overnight wrap (End < Start).
func (p *Policy) IsOffHours(hour int) bool {
	start, end := p.BusinessHours.Start, p.BusinessHours.End
	if start <= end {
		return !(start <= hour && hour < end)
	}
	return !(hour >= start || hour < end)
}

// DefaultPolicy returns a policy with the documented defaults.
func DefaultPolicy() *Policy {
	return &Policy{
		Thresholds:          map[string]int{"rules_alert": 2},
		BusinessHours:       BusinessHours{Start: 8, End: 18},
		HighRiskCountries:   map[string]bool{},
		GeoJumpKm:           1500,
		LargeTransferAmount: 50000,
		PrivilegedRoles: map[string]bool{
			"admin":      true,
			"ops":        true,
			"supervisor": true,
		},
	}
}
