package models

import "time"

// Delivery outcomes recorded in the audit store. The raw payload is never
// persisted; only what the monitoring endpoint needs.
const (
	OutcomeProcessed = "processed"
	OutcomeIgnored   = "ignored"
	OutcomeRejected  = "rejected"
	OutcomeFailed    = "failed"
)

type Delivery struct {
	ID         uint `gorm:"primaryKey"`
	Event      string
	Action     string
	Repository string
	Outcome    string
	Detail     string
	CreatedAt  time.Time
}
