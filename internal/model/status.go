package model

import "fmt"

type InvoiceStatus string

const (
	StatusSynced  InvoiceStatus = "synced"
	StatusPending InvoiceStatus = "pending"
	StatusReview  InvoiceStatus = "review"
)

var validStatuses = map[InvoiceStatus]bool{
	StatusSynced:  true,
	StatusPending: true,
	StatusReview:  true,
}

// Status transitions driven by this process: pending|review → synced.
// synced is terminal for the core; re-flagging a synced invoice back to
// pending is an external repository concern and never originates here.
var validStatusTransitions = map[InvoiceStatus]map[InvoiceStatus]bool{
	StatusPending: {
		StatusSynced: true,
	},
	StatusReview: {
		StatusSynced: true,
	},
}

func IsValidStatus(s InvoiceStatus) bool {
	return validStatuses[s]
}

// IsDrainEligible reports whether an invoice with this status belongs in
// the sync queue. The drainer does not distinguish pending from review.
func IsDrainEligible(s InvoiceStatus) bool {
	return s == StatusPending || s == StatusReview
}

func IsTerminal(s InvoiceStatus) bool {
	return s == StatusSynced
}

func ValidateStatusTransition(from, to InvoiceStatus) error {
	if !validStatuses[from] {
		return fmt.Errorf("unknown status %q", from)
	}
	if !validStatuses[to] {
		return fmt.Errorf("unknown status %q", to)
	}
	if IsTerminal(from) {
		return fmt.Errorf("cannot transition from terminal status %q", from)
	}
	if !validStatusTransitions[from][to] {
		return fmt.Errorf("invalid status transition: %q → %q", from, to)
	}
	return nil
}
