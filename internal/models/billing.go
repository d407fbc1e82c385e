// Package models defines the domain models for the application.
package models

import "time"

// ChargeMode distinguishes the two billing entry points.
type ChargeMode string

const (
	// ChargeModeDelta debits a fixed amount, deduplicated by idempotency key.
	ChargeModeDelta ChargeMode = "delta"
	// ChargeModeTarget raises a job's credits_used to a target, never lowering it.
	ChargeModeTarget ChargeMode = "target"
)

// ChargeItemUnattributedAdjustment replaces charge detail items that do not
// sum to the charged delta, so the ledger always balances.
const ChargeItemUnattributedAdjustment = "unattributed_adjustment"

// LedgerEntry is one append-only row in the billing ledger. BeforeCredits
// and AfterCredits are nil when the entry short-circuited before touching
// the api_key balance (dedup hits, zero charges).
type LedgerEntry struct {
	ID                string     `json:"id"`
	JobID             string     `json:"job_id"`
	APIKeyID          string     `json:"api_key_id"`
	Mode              ChargeMode `json:"mode"`
	Reason            string     `json:"reason"`
	IdempotencyKey    string     `json:"idempotency_key"`
	Charged           int64      `json:"charged"`
	BeforeUsed        int64      `json:"before_used"`
	AfterUsed         int64      `json:"after_used"`
	BeforeCredits     *int64     `json:"before_credits,omitempty"`
	AfterCredits      *int64     `json:"after_credits,omitempty"`
	ChargeDetailsJSON string     `json:"charge_details_json,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

// ChargeDetailItem attributes part of a charge to a line item.
type ChargeDetailItem struct {
	Type    string `json:"type"`
	Credits int64  `json:"credits"`
}

// ChargeDetails itemizes what a charge paid for.
type ChargeDetails struct {
	Total int64              `json:"total"`
	Items []ChargeDetailItem `json:"items,omitempty"`
}

// Normalize forces the details to account for exactly delta credits. When
// the recorded total or the item sum disagrees with delta, the items are
// replaced by a single unattributed_adjustment entry.
func (d *ChargeDetails) Normalize(delta int64) {
	var sum int64
	for _, item := range d.Items {
		sum += item.Credits
	}
	if d.Total == delta && sum == delta {
		return
	}
	d.Total = delta
	d.Items = []ChargeDetailItem{{Type: ChargeItemUnattributedAdjustment, Credits: delta}}
}

// ChargeResult reports the outcome of a billing call. Charged is zero on
// idempotency dedup and on target-mode calls at or below the current usage.
type ChargeResult struct {
	Charged          int64 `json:"charged"`
	RemainingCredits int64 `json:"remaining_credits"`
}
