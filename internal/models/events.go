package models

import "time"

// Event types published to Kafka.
const (
	EventAccountCreated     = "account.created"
	EventAccountUpdated     = "account.updated"
	EventAccountVerified    = "account.verified"
	EventReferralLinked     = "referral.linked"
	EventDepositRecorded    = "ledger.deposit.recorded"
	EventWithdrawalRecorded = "ledger.withdrawal.recorded"
	EventKYCSubmitted       = "kyc.submitted"
)

// DomainEvent is the envelope written to the event topics.
type DomainEvent struct {
	EventID    string            `json:"event_id"`
	EventType  string            `json:"event_type"`
	AccountID  string            `json:"account_id"`
	OccurredAt time.Time         `json:"occurred_at"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// AuditEvent is one row in the ClickHouse audit trail.
type AuditEvent struct {
	EventID    string    `db:"event_id"`
	AccountID  string    `db:"account_id"`
	Operation  string    `db:"operation"`
	Outcome    string    `db:"outcome"`
	Detail     string    `db:"detail"`
	OccurredAt time.Time `db:"occurred_at"`
}
