// Package narrative renders one-line analyst summaries for scored events.
// The templates are extractive; a generative backend can replace Summarize
// behind the same signature.
package narrative

import (
	"fmt"
	"strings"

	"github.com/opensource-finance/sentinel/internal/domain"
)

const timestampLayout = "2006-01-02 15:04:05"

// Summarize renders the summary line for one scored event. Output depends
// only on the input, so re-scoring the same batch reproduces the same text.
func Summarize(s *domain.ScoredEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "User %s triggered %s in %s at %s",
		s.Event.UserID, s.Event.EventType, s.Event.Country,
		s.Event.Timestamp.UTC().Format(timestampLayout))

	if s.Event.EventType == domain.EventWireTransfer {
		fmt.Fprintf(&b, " for $%.2f", s.Event.Amount)
	}
	if s.Features.OffHours == 1 {
		b.WriteString(" outside business hours")
	}
	if len(s.Reasons) > 0 {
		fmt.Fprintf(&b, "; flags: %s", strings.Join(s.Reasons, ", "))
	}
	fmt.Fprintf(&b, ". Risk=%.2f (sev=%s).", s.RiskScore, s.Severity)
	return b.String()
}
