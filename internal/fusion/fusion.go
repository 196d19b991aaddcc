// Package fusion combines the anomaly probability with rule hits into a
// final risk score and severity bucket.
package fusion

import "github.com/opensource-finance/sentinel/internal/domain"

const (
	// alertBoost is added once when the rule-hit count reaches the policy
	// alert threshold; perReasonBoost is added per firing rule on top.
	alertBoost     = 0.2
	perReasonBoost = 0.1

	mediumFloor = 0.6
	highFloor   = 0.8
)

// Fuse returns the risk score for one event. Below the alert threshold the
// anomaly probability passes through untouched; at or above it the score is
// boosted by the rule evidence and capped at 1.
func Fuse(anomalyProb float64, reasons []string, policy *domain.Policy) float64 {
	if len(reasons) < policy.RulesAlertThreshold() {
		return anomalyProb
	}
	risk := anomalyProb + alertBoost + perReasonBoost*float64(len(reasons))
	if risk > 1 {
		return 1
	}
	return risk
}

// Bucket discretizes a risk score: (highFloor, 1] is high,
// (mediumFloor, highFloor] is medium, the rest low.
func Bucket(risk float64) domain.Severity {
	switch {
	case risk > highFloor:
		return domain.SeverityHigh
	case risk > mediumFloor:
		return domain.SeverityMedium
	default:
		return domain.SeverityLow
	}
}
