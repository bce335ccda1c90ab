// Package queue holds the ordered set of invoices awaiting synchronization.
package queue

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/mizanhasan/invoq/internal/model"
	"github.com/mizanhasan/invoq/internal/score"
)

// ErrDrainInProgress is returned when a mutation arrives while a drain
// holds the store. Applying a reorder mid-drain would race the drain's
// snapshot, so mutations are rejected rather than deferred.
var ErrDrainInProgress = errors.New("drain in progress")

// Diagnostic records a non-fatal scoring problem for one invoice,
// currently always an unparsable amount.
type Diagnostic struct {
	InvoiceID string
	Err       error
}

// Store owns the sync queue. All operations are synchronous; a single
// Store instance must be the only owner of its queue (single-writer
// discipline, enforced with a mutex).
type Store struct {
	mu       sync.Mutex
	entries  []model.QueueEntry
	draining bool
}

func NewStore() *Store {
	return &Store{}
}

// Recompute regenerates the queue from the current invoice set: invoices
// with drain-eligible status are scored and sorted by priority descending,
// ties broken by their position in the source list. The queue's previous
// content, including any manual reordering, is fully replaced. Returned
// diagnostics report invoices whose amount could not be normalized; they
// are still queued, scored with a zero amount factor.
func (s *Store) Recompute(invoices []model.Invoice, now time.Time) ([]Diagnostic, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.draining {
		return nil, ErrDrainInProgress
	}

	var diags []Diagnostic
	entries := make([]model.QueueEntry, 0, len(invoices))
	seen := make(map[string]bool)
	idx := 0
	for _, inv := range invoices {
		if !model.IsDrainEligible(inv.Status) {
			continue
		}
		if seen[inv.ID] {
			continue
		}
		seen[inv.ID] = true

		sc, err := score.Score(inv, now)
		if err != nil {
			diags = append(diags, Diagnostic{InvoiceID: inv.ID, Err: err})
		}
		entries = append(entries, model.QueueEntry{
			InvoiceID:     inv.ID,
			Score:         sc,
			SnapshotIndex: idx,
		})
		idx++
	}

	// SliceStable keeps source order for equal values; SnapshotIndex
	// records it for later inspection.
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Score.Value > entries[j].Score.Value
	})

	s.entries = entries
	return diags, nil
}

// MoveTo removes the entry and reinserts it at the given index, clamped to
// the queue bounds. It is a no-op when the invoice is not queued. This is
// the only way order deviates from computed priority between recomputes.
func (s *Store) MoveTo(invoiceID string, newIndex int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.draining {
		return ErrDrainInProgress
	}

	cur := s.indexOf(invoiceID)
	if cur < 0 {
		return nil
	}

	entry := s.entries[cur]
	s.entries = append(s.entries[:cur], s.entries[cur+1:]...)

	if newIndex < 0 {
		newIndex = 0
	}
	if newIndex > len(s.entries) {
		newIndex = len(s.entries)
	}
	s.entries = append(s.entries, model.QueueEntry{})
	copy(s.entries[newIndex+1:], s.entries[newIndex:])
	s.entries[newIndex] = entry
	return nil
}

// Remove deletes the entry if present. Idempotent.
func (s *Store) Remove(invoiceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.draining {
		return ErrDrainInProgress
	}
	s.removeLocked(invoiceID)
	return nil
}

// Snapshot returns a copy of the queue in its current order.
func (s *Store) Snapshot() []model.QueueEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.QueueEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// BeginDrain latches the store for a drain. While latched, Recompute,
// MoveTo and Remove return ErrDrainInProgress; the drainer itself removes
// synced entries through CompleteEntry.
func (s *Store) BeginDrain() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.draining {
		return ErrDrainInProgress
	}
	s.draining = true
	return nil
}

// EndDrain releases the drain latch.
func (s *Store) EndDrain() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.draining = false
}

// CompleteEntry removes a successfully synced entry. Only meaningful
// between BeginDrain and EndDrain.
func (s *Store) CompleteEntry(invoiceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(invoiceID)
}

func (s *Store) removeLocked(invoiceID string) {
	i := s.indexOf(invoiceID)
	if i < 0 {
		return
	}
	s.entries = append(s.entries[:i], s.entries[i+1:]...)
}

func (s *Store) indexOf(invoiceID string) int {
	for i, e := range s.entries {
		if e.InvoiceID == invoiceID {
			return i
		}
	}
	return -1
}
