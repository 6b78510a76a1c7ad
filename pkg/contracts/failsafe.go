package contracts

import "time"

// Severity grades an economic anomaly and decides how it propagates.
type Severity string

// Severity tiers.
const (
	// SeverityCritical anomalies invalidate the event and quarantine it.
	SeverityCritical Severity = "CRITICAL"
	// SeverityHigh anomalies are auto-corrected; the caller proceeds.
	SeverityHigh Severity = "HIGH"
	// SeverityMedium anomalies are silently corrected and logged.
	SeverityMedium Severity = "MEDIUM"
)

// ErrorCode identifies the check that fired.
type ErrorCode string

// Error codes emitted by the validators.
const (
	ErrNegativeRevenue     ErrorCode = "NEGATIVE_REVENUE"
	ErrInvalidRegion       ErrorCode = "INVALID_REGION"
	ErrMissingParty        ErrorCode = "MISSING_PARTY"
	ErrCorruptedSplit      ErrorCode = "CORRUPTED_SPLIT"
	ErrMultiplierOutOfBand ErrorCode = "MULTIPLIER_OUT_OF_BAND"
)

// Correction describes what, if anything, was done about an anomaly.
type Correction struct {
	Applied bool   `json:"applied"`
	Action  string `json:"action"`
	Result  string `json:"result"`
}

// FailsafeEvent is the audit record written for each detected anomaly.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type FailsafeEvent struct {
	Timestamp             time.Time  `json:"timestamp"`
	Kind                  ErrorCode  `json:"kind"`
	Severity              Severity   `json:"severity"`
	Description           string     `json:"description"`
	AffectedPartyID       string     `json:"affected_party_id,omitempty"`
	AffectedTransactionID string     `json:"affected_transaction_id,omitempty"`
	Correction            Correction `json:"correction"`
	Quarantined           bool       `json:"quarantined"`
}

// BlockedChargeAttempt records a charge the zero-billing guard refused.
type BlockedChargeAttempt struct {
	SubjectID string    `json:"subject_id"`
	Amount    int64     `json:"amount"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}
