package model

// PriorityScore is the derived urgency of syncing one invoice. It is
// recomputed from invoice attributes and never persisted on its own.
type PriorityScore struct {
	Value int    `json:"value"`
	// Reason is a short human-readable explanation, empty when no rule fired.
	Reason string `json:"reason,omitempty"`

	// Per-factor contribution as a percentage of the final score, for
	// display and audit.
	AgeWeightPct        int `json:"age_weight_pct"`
	AmountWeightPct     int `json:"amount_weight_pct"`
	ConfidenceWeightPct int `json:"confidence_weight_pct"`

	// AgeLabel is the elapsed time since the invoice date, e.g. "3h ago".
	AgeLabel string `json:"age_label"`
}

// QueueEntry is one invoice's representation within the sync queue.
// SnapshotIndex records the invoice's position in the filtered source list
// at the last recompute and is the stable tie-break for equal scores.
type QueueEntry struct {
	InvoiceID     string        `json:"invoice_id"`
	Score         PriorityScore `json:"score"`
	SnapshotIndex int           `json:"snapshot_index"`
}

// DrainFailure records one entry whose sync attempt failed. The entry
// stays in the queue with its last-known priority until it succeeds or is
// removed. AttemptID identifies the individual attempt in the audit log,
// so repeated failures of one invoice across drains stay distinguishable.
type DrainFailure struct {
	InvoiceID string `json:"invoice_id"`
	AttemptID string `json:"attempt_id,omitempty"`
	Err       string `json:"error"`
}

// DrainReport summarizes one pass over the queue.
type DrainReport struct {
	ID         string         `json:"id"`
	StartedAt  string         `json:"started_at"`
	FinishedAt string         `json:"finished_at"`
	Succeeded  []string       `json:"succeeded"`
	Failed     []DrainFailure `json:"failed"`
	Cancelled  bool           `json:"cancelled"`
}
