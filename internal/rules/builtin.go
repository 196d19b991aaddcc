package rules

import "github.com/opensource-finance/sentinel/internal/domain"

// Reason codes emitted by the built-in rules, in evaluation order.
const (
	CodeOffHoursLargeTransfer     = "OFF_HOURS_LARGE_TRANSFER"
	CodeHighRiskCountry           = "HIGH_RISK_COUNTRY"
	CodeGeoImpossibleTravel       = "GEO_IMPOSSIBLE_TRAVEL"
	CodePrivilegedSensitiveAction = "PRIVILEGED_SENSITIVE_ACTION"
	CodeFailedMFA                 = "FAILED_MFA"
)

// builtinRule is a deterministic predicate over one event and its derived
// features.
type builtinRule struct {
	code string
	hit  func(p *domain.Policy, e *domain.Event, f *domain.FeatureVector) bool
}

// builtins fire in this fixed order so reason lists are reproducible
// across runs.
var builtins = []builtinRule{
	{
		code: CodeOffHoursLargeTransfer,
		hit: func(p *domain.Policy, e *domain.Event, f *domain.FeatureVector) bool {
			return f.OffHours == 1 &&
				e.EventType == domain.EventWireTransfer &&
				e.Amount > p.LargeTransferAmount
		},
	},
	{
		code: CodeHighRiskCountry,
		hit: func(p *domain.Policy, e *domain.Event, f *domain.FeatureVector) bool {
			return p.HighRiskCountries[e.Country]
		},
	},
	{
		code: CodeGeoImpossibleTravel,
		hit: func(p *domain.Policy, e *domain.Event, f *domain.FeatureVector) bool {
			return f.GeoKmFromPrev >= p.GeoJumpKm
		},
	},
	{
		code: CodePrivilegedSensitiveAction,
		hit: func(p *domain.Policy, e *domain.Event, f *domain.FeatureVector) bool {
			if e.IsPrivileged != 1 {
				return false
			}
			return e.EventType == domain.EventChangeBeneficiary ||
				e.EventType == domain.EventPasswordReset
		},
	},
	{
		code: CodeFailedMFA,
		hit: func(p *domain.Policy, e *domain.Event, f *domain.FeatureVector) bool {
			return e.EventType == domain.EventMFAChallenge && e.MFASuccess == 0
		},
	},
}
