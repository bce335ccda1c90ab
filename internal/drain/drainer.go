// Package drain processes the sync queue one entry at a time.
package drain

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/mizanhasan/invoq/internal/model"
	"github.com/mizanhasan/invoq/internal/queue"
)

// Syncer performs the remote synchronization of one invoice. The wire
// protocol is the implementation's concern; the drainer only sees
// success or failure.
type Syncer interface {
	SyncOne(ctx context.Context, invoiceID string) error
}

// StatusWriter persists the local status change after a successful sync.
type StatusWriter interface {
	UpdateStatus(invoiceID string, status model.InvoiceStatus) error
}

// StorageError reports a failed local status write after the remote sync
// already succeeded. The remote side now believes the invoice is synced
// while the local store disagrees, so this is escalated distinctly
// instead of joining the per-entry failure bucket.
type StorageError struct {
	InvoiceID string
	Err       error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("status update for %s failed after successful sync: %v", e.InvoiceID, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Drainer drains a queue.Store against an injected Syncer. At most one
// synchronization is in flight at any time.
type Drainer struct {
	logger *log.Logger
}

func New(logger *log.Logger) *Drainer {
	return &Drainer{logger: logger}
}

// Drain processes the queue's current snapshot in order, strictly
// sequentially. A failed sync keeps the entry at its position, is recorded
// in the report, and the batch continues. Cancellation is honored between
// entries, never mid-sync: remaining entries stay queued and the partial
// report is returned. A *StorageError aborts the batch and is returned
// alongside the partial report.
func (d *Drainer) Drain(ctx context.Context, store *queue.Store, syncer Syncer, writer StatusWriter) (model.DrainReport, error) {
	report := model.DrainReport{
		Succeeded: []string{},
		Failed:    []model.DrainFailure{},
		StartedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if id, err := model.GenerateID(model.IDTypeDrain); err == nil {
		report.ID = id
	}

	if err := store.BeginDrain(); err != nil {
		return report, err
	}
	defer store.EndDrain()

	snapshot := store.Snapshot()
	d.log("drain_start id=%s entries=%d", report.ID, len(snapshot))

	for _, entry := range snapshot {
		select {
		case <-ctx.Done():
			report.Cancelled = true
			report.FinishedAt = time.Now().UTC().Format(time.RFC3339)
			d.log("drain_cancelled id=%s synced=%d failed=%d", report.ID, len(report.Succeeded), len(report.Failed))
			return report, nil
		default:
		}

		attemptID := ""
		if id, err := model.GenerateID(model.IDTypeAttempt); err == nil {
			attemptID = id
		}

		// The in-flight call is shielded from the drain's cancellation:
		// a cancel takes effect between entries, never mid-sync. The
		// syncer's own timeout still bounds the call.
		if err := syncer.SyncOne(context.WithoutCancel(ctx), entry.InvoiceID); err != nil {
			report.Failed = append(report.Failed, model.DrainFailure{
				InvoiceID: entry.InvoiceID,
				AttemptID: attemptID,
				Err:       err.Error(),
			})
			d.log("drain_entry_failed invoice=%s attempt=%s error=%v", entry.InvoiceID, attemptID, err)
			continue
		}

		store.CompleteEntry(entry.InvoiceID)
		report.Succeeded = append(report.Succeeded, entry.InvoiceID)
		d.log("drain_entry_synced invoice=%s attempt=%s", entry.InvoiceID, attemptID)

		if err := writer.UpdateStatus(entry.InvoiceID, model.StatusSynced); err != nil {
			report.FinishedAt = time.Now().UTC().Format(time.RFC3339)
			d.log("drain_storage_error invoice=%s error=%v", entry.InvoiceID, err)
			return report, &StorageError{InvoiceID: entry.InvoiceID, Err: err}
		}
	}

	report.FinishedAt = time.Now().UTC().Format(time.RFC3339)
	d.log("drain_done id=%s synced=%d failed=%d", report.ID, len(report.Succeeded), len(report.Failed))
	return report, nil
}

func (d *Drainer) log(format string, args ...any) {
	if d.logger == nil {
		return
	}
	d.logger.Printf("%s drainer: %s", time.Now().Format(time.RFC3339), fmt.Sprintf(format, args...))
}
