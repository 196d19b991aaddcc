// Package domain defines the core interfaces and types for Sentinel.
package domain

import (
	"time"
)

// EventType enumerates the account activity kinds the engine scores.
type EventType string

const (
	EventLogin             EventType = "login"
	EventWireTransfer      EventType = "wire_transfer"
	EventView              EventType = "view"
	EventChangeBeneficiary EventType = "change_beneficiary"
	EventPasswordReset     EventType = "password_reset"
	EventMFAChallenge      EventType = "mfa_challenge"
)

// KnownEventTypes lists every valid event type.
var KnownEventTypes = []EventType{
	EventLogin,
	EventWireTransfer,
	EventView,
	EventChangeBeneficiary,
	EventPasswordReset,
	EventMFAChallenge,
}

// Channel enumerates the access channels.
type Channel string

const (
	ChannelWeb    Channel = "web"
	ChannelMobile Channel = "mobile"
	ChannelBranch Channel = "branch"
)

// Event is a single account-activity record. Immutable once ingested.
type Event struct {
	ID           string    `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	UserID       string    `json:"userId"`
	Role         string    `json:"role"`
	EventType    EventType `json:"eventType"`
	Amount       float64   `json:"amount"` // 0 for non-monetary events
	Country      string    `json:"country"`
	Lat          float64   `json:"lat"`
	Lon          float64   `json:"lon"`
	Channel      Channel   `json:"channel"`
	IsPrivileged int       `json:"isPrivileged"` // 0/1
	MFASuccess   int       `json:"mfaSuccess"`   // 0/1
	DeviceID     string    `json:"deviceId"`
	IP           string    `json:"ip"`
}

// FeatureVector holds the derived per-event attributes, in the same order
// as FeatureColumns.
type FeatureVector struct {
	Hour           int     `json:"hour"`
	DayOfWeek      int     `json:"dayofweek"` // Monday=0
	OffHours       int     `json:"off_hours"`
	Amount         float64 `json:"amount"`
	AmountRollMean float64 `json:"amount_roll_mean"`
	AmountRollStd  float64 `json:"amount_roll_std"`
	LoginCntWindow int     `json:"login_cnt_window"`
	GeoKmFromPrev  float64 `json:"geo_km_from_prev"`
	EventTypeCode  int     `json:"event_type_code"`
	CountryCode    int     `json:"country_code"`
	ChannelCode    int     `json:"channel_code"`
	RoleCode       int     `json:"role_code"`
	IsPrivileged   int     `json:"is_privileged"`
	MFASuccess     int     `json:"mfa_success"`
}

// FeatureColumns is the canonical feature-column order. The model artifact
// stores a copy; inference fails hard on any mismatch.
var FeatureColumns = []string{
	"hour",
	"dayofweek",
	"off_hours",
	"amount",
	"amount_roll_mean",
	"amount_roll_std",
	"login_cnt_window",
	"geo_km_from_prev",
	"event_type_code",
	"country_code",
	"channel_code",
	"role_code",
	"is_privileged",
	"mfa_success",
}

// Row returns the vector as a float slice in FeatureColumns order.
func (f *FeatureVector) Row() []float64 {
	return []float64{
		float64(f.Hour),
		float64(f.DayOfWeek),
		float64(f.OffHours),
		f.Amount,
		f.AmountRollMean,
		f.AmountRollStd,
		float64(f.LoginCntWindow),
		f.GeoKmFromPrev,
		float64(f.EventTypeCode),
		float64(f.CountryCode),
		float64(f.ChannelCode),
		float64(f.RoleCode),
		float64(f.IsPrivileged),
		float64(f.MFASuccess),
	}
}

// Severity is the discretized risk bucket.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// ScoredEvent is an Event plus everything the scoring pipeline derived
// for it.
type ScoredEvent struct {
	Event    Event         `json:"event"`
	Features FeatureVector `json:"features"`

	// AnomalyProb is in [0,1] and batch-relative: values are min-max
	// normalized within one scoring run and are not comparable across
	// runs with different input distributions.
	AnomalyProb float64 `json:"anomalyProb"`

	Reasons   []string `json:"reasons"`
	RiskScore float64  `json:"riskScore"`
	Severity  Severity `json:"severity"`
	Summary   string   `json:"summary"`

	ScoredAt time.Time `json:"scoredAt"`
}

// BatchPolicy decides how the feature builder treats malformed rows.
type BatchPolicy int

const (
	// FailBatch aborts the whole batch on the first malformed event.
	FailBatch BatchPolicy = iota

	// SkipRecord drops malformed events and reports them alongside the
	// good rows.
	SkipRecord
)
