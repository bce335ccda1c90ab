package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/mizanhasan/invoq/internal/model"
	"github.com/mizanhasan/invoq/internal/uds"
	invoqyaml "github.com/mizanhasan/invoq/internal/yaml"
)

type scriptedSyncer struct {
	failIDs map[string]bool
	calls   []string
}

func (s *scriptedSyncer) SyncOne(ctx context.Context, invoiceID string) error {
	s.calls = append(s.calls, invoiceID)
	if s.failIDs[invoiceID] {
		return fmt.Errorf("remote unavailable for %s", invoiceID)
	}
	return nil
}

func setupTestDaemon(t *testing.T, invoices []model.Invoice) *Daemon {
	t.Helper()
	invoqDir := filepath.Join(t.TempDir(), ".invoq")
	for _, sub := range []string{"data", "locks", "logs"} {
		if err := os.MkdirAll(filepath.Join(invoqDir, sub), 0755); err != nil {
			t.Fatalf("create %s: %v", sub, err)
		}
	}

	storePath := filepath.Join(invoqDir, "data", "invoices.yaml")
	file := model.InvoiceFile{
		SchemaVersion: invoqyaml.CurrentSchemaVersion,
		FileType:      invoqyaml.FileTypeInvoiceStore,
		Invoices:      invoices,
	}
	if err := invoqyaml.AtomicWrite(storePath, file); err != nil {
		t.Fatalf("write store: %v", err)
	}

	cfg := model.DefaultConfig("test")
	cfg.Daemon.StartOnline = true

	var buf bytes.Buffer
	d, err := newDaemon(invoqDir, cfg, &buf, nil)
	if err != nil {
		t.Fatalf("newDaemon: %v", err)
	}
	d.SetSyncer(&scriptedSyncer{})
	d.recompute()
	return d
}

func testInvoices() []model.Invoice {
	return []model.Invoice{
		{ID: "INV-001", Supplier: "Dhaka Steel Ltd", Date: "2025-11-05", Amount: "৳45,230", Status: model.StatusSynced, Confidence: 95},
		{ID: "INV-002", Supplier: "Bengal Traders", Date: "2025-11-04", Amount: "৳12,450", Status: model.StatusPending, Confidence: 72},
		{ID: "INV-003", Supplier: "রহিম টেক্সটাইল", Date: "2025-11-03", Amount: "৳89,100", Status: model.StatusReview, Confidence: 68},
	}
}

func mustRequest(t *testing.T, command string, params any) *uds.Request {
	t.Helper()
	req, err := uds.NewRequest(command, params)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	return req
}

func TestHandlePing(t *testing.T) {
	d := setupTestDaemon(t, testInvoices())

	resp := d.handlePing(mustRequest(t, "ping", nil))
	if !resp.Success {
		t.Fatalf("ping failed: %+v", resp.Error)
	}

	var ping PingResponse
	if err := json.Unmarshal(resp.Data, &ping); err != nil {
		t.Fatalf("decode ping: %v", err)
	}
	if ping.PID != os.Getpid() {
		t.Errorf("pid = %d, want %d", ping.PID, os.Getpid())
	}
	if !ping.Online {
		t.Error("daemon should report online")
	}
}

func TestHandleStatus(t *testing.T) {
	d := setupTestDaemon(t, testInvoices())

	resp := d.handleStatus(mustRequest(t, "status", nil))
	if !resp.Success {
		t.Fatalf("status failed: %+v", resp.Error)
	}

	var status StatusResponse
	if err := json.Unmarshal(resp.Data, &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.QueueDepth != 2 {
		t.Errorf("queue depth = %d, want 2", status.QueueDepth)
	}
	if status.Store.Total != 3 {
		t.Errorf("store total = %d, want 3", status.Store.Total)
	}
	if status.Store.Synced != 1 {
		t.Errorf("store synced = %d, want 1", status.Store.Synced)
	}
}

func TestHandleQueueList_OrderedByPriority(t *testing.T) {
	d := setupTestDaemon(t, testInvoices())

	resp := d.handleQueueList(mustRequest(t, "queue_list", nil))
	if !resp.Success {
		t.Fatalf("queue_list failed: %+v", resp.Error)
	}

	var list QueueListResponse
	if err := json.Unmarshal(resp.Data, &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list.Entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(list.Entries))
	}
	// INV-003 is older, larger and less confident, so it outranks INV-002.
	if list.Entries[0].InvoiceID != "INV-003" {
		t.Errorf("head = %s, want INV-003", list.Entries[0].InvoiceID)
	}
	if list.Entries[0].Score.Value < list.Entries[1].Score.Value {
		t.Error("entries not sorted by score descending")
	}
}

func TestHandleQueueMove(t *testing.T) {
	d := setupTestDaemon(t, testInvoices())

	resp := d.handleQueueMove(mustRequest(t, "queue_move", queueMoveParams{InvoiceID: "INV-002", Index: 0}))
	if !resp.Success {
		t.Fatalf("queue_move failed: %+v", resp.Error)
	}

	entries := d.queue.Snapshot()
	if entries[0].InvoiceID != "INV-002" {
		t.Errorf("head after move = %s, want INV-002", entries[0].InvoiceID)
	}
}

func TestHandleQueueMove_MissingID(t *testing.T) {
	d := setupTestDaemon(t, testInvoices())

	resp := d.handleQueueMove(mustRequest(t, "queue_move", queueMoveParams{Index: 0}))
	if resp.Success {
		t.Fatal("expected validation error")
	}
	if resp.Error.Code != uds.ErrCodeValidation {
		t.Errorf("error code = %s, want %s", resp.Error.Code, uds.ErrCodeValidation)
	}
}

func TestHandleQueueRemove(t *testing.T) {
	d := setupTestDaemon(t, testInvoices())

	resp := d.handleQueueRemove(mustRequest(t, "queue_remove", queueRemoveParams{InvoiceID: "INV-003"}))
	if !resp.Success {
		t.Fatalf("queue_remove failed: %+v", resp.Error)
	}
	if d.queue.Len() != 1 {
		t.Errorf("queue len = %d, want 1", d.queue.Len())
	}

	// Removing again is idempotent.
	resp = d.handleQueueRemove(mustRequest(t, "queue_remove", queueRemoveParams{InvoiceID: "INV-003"}))
	if !resp.Success {
		t.Fatalf("second queue_remove failed: %+v", resp.Error)
	}
}

func TestHandleDrain_Offline(t *testing.T) {
	d := setupTestDaemon(t, testInvoices())
	d.online.Store(false)

	resp := d.handleDrain(mustRequest(t, "drain", nil))
	if resp.Success {
		t.Fatal("expected offline error")
	}
	if resp.Error.Code != uds.ErrCodeOffline {
		t.Errorf("error code = %s, want %s", resp.Error.Code, uds.ErrCodeOffline)
	}
	if d.queue.Len() != 2 {
		t.Errorf("queue must be untouched while offline, len = %d", d.queue.Len())
	}
}

func TestHandleDrain_Success(t *testing.T) {
	d := setupTestDaemon(t, testInvoices())
	syncer := &scriptedSyncer{}
	d.SetSyncer(syncer)

	resp := d.handleDrain(mustRequest(t, "drain", nil))
	if !resp.Success {
		t.Fatalf("drain failed: %+v", resp.Error)
	}

	var report model.DrainReport
	if err := json.Unmarshal(resp.Data, &report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if len(report.Succeeded) != 2 {
		t.Errorf("succeeded = %d, want 2", len(report.Succeeded))
	}
	if len(report.Failed) != 0 {
		t.Errorf("failed = %d, want 0", len(report.Failed))
	}
	if report.Cancelled {
		t.Error("report should not be cancelled")
	}

	// Priority order: INV-003 before INV-002.
	if len(syncer.calls) != 2 || syncer.calls[0] != "INV-003" {
		t.Errorf("sync order = %v, want [INV-003 INV-002]", syncer.calls)
	}

	// Statuses persisted; the post-drain recompute finds nothing eligible.
	if d.queue.Len() != 0 {
		t.Errorf("queue len after drain = %d, want 0", d.queue.Len())
	}
	all, err := d.repo.List()
	if err != nil {
		t.Fatalf("reload store: %v", err)
	}
	for _, inv := range all {
		if inv.Status != model.StatusSynced {
			t.Errorf("invoice %s status = %s, want synced", inv.ID, inv.Status)
		}
	}
}

func TestHandleDrain_PartialFailure(t *testing.T) {
	d := setupTestDaemon(t, testInvoices())
	d.SetSyncer(&scriptedSyncer{failIDs: map[string]bool{"INV-003": true}})

	resp := d.handleDrain(mustRequest(t, "drain", nil))
	if !resp.Success {
		t.Fatalf("drain failed: %+v", resp.Error)
	}

	var report model.DrainReport
	if err := json.Unmarshal(resp.Data, &report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if len(report.Succeeded) != 1 || report.Succeeded[0] != "INV-002" {
		t.Errorf("succeeded = %v, want [INV-002]", report.Succeeded)
	}
	if len(report.Failed) != 1 || report.Failed[0].InvoiceID != "INV-003" {
		t.Errorf("failed = %v, want INV-003", report.Failed)
	}

	// The failed entry is requeued by the post-drain recompute.
	if d.queue.Len() != 1 {
		t.Errorf("queue len = %d, want 1", d.queue.Len())
	}
	if entries := d.queue.Snapshot(); entries[0].InvoiceID != "INV-003" {
		t.Errorf("remaining entry = %s, want INV-003", entries[0].InvoiceID)
	}
}

func TestHandleDrain_EmptyQueue(t *testing.T) {
	d := setupTestDaemon(t, nil)

	resp := d.handleDrain(mustRequest(t, "drain", nil))
	if !resp.Success {
		t.Fatalf("drain failed: %+v", resp.Error)
	}

	var report model.DrainReport
	if err := json.Unmarshal(resp.Data, &report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if len(report.Succeeded) != 0 || len(report.Failed) != 0 {
		t.Errorf("empty queue drain should be a no-op, got %+v", report)
	}
}

func TestHandleOnlineSetGet(t *testing.T) {
	d := setupTestDaemon(t, testInvoices())

	resp := d.handleOnlineSet(mustRequest(t, "online_set", onlineSetParams{Online: false}))
	if !resp.Success {
		t.Fatalf("online_set failed: %+v", resp.Error)
	}

	resp = d.handleOnlineGet(mustRequest(t, "online_get", nil))
	if !resp.Success {
		t.Fatalf("online_get failed: %+v", resp.Error)
	}
	var online OnlineResponse
	if err := json.Unmarshal(resp.Data, &online); err != nil {
		t.Fatalf("decode online: %v", err)
	}
	if online.Online {
		t.Error("online = true, want false after online_set off")
	}
}

func TestHandleQueueMove_RejectedDuringDrain(t *testing.T) {
	d := setupTestDaemon(t, testInvoices())

	if err := d.queue.BeginDrain(); err != nil {
		t.Fatalf("begin drain: %v", err)
	}
	defer d.queue.EndDrain()

	resp := d.handleQueueMove(mustRequest(t, "queue_move", queueMoveParams{InvoiceID: "INV-002", Index: 0}))
	if resp.Success {
		t.Fatal("expected drain-in-progress error")
	}
	if resp.Error.Code != uds.ErrCodeDrainInProgress {
		t.Errorf("error code = %s, want %s", resp.Error.Code, uds.ErrCodeDrainInProgress)
	}
}

func TestRecompute_LogsUnparsableAmounts(t *testing.T) {
	invoices := testInvoices()
	invoices = append(invoices, model.Invoice{
		ID: "INV-007", Supplier: "Chitta Traders", Date: "2025-11-02", Amount: "n/a", Status: model.StatusPending, Confidence: 80,
	})
	d := setupTestDaemon(t, invoices)

	// Unparsable amounts are diagnostics, not exclusions.
	if d.queue.Len() != 3 {
		t.Errorf("queue len = %d, want 3", d.queue.Len())
	}
	found := false
	for _, e := range d.queue.Snapshot() {
		if e.InvoiceID == "INV-007" {
			found = true
		}
	}
	if !found {
		t.Error("invoice with unparsable amount missing from queue")
	}
}

func TestRecoverStore_CorruptFile(t *testing.T) {
	d := setupTestDaemon(t, testInvoices())

	// Rewrite once so a .bak of the current content exists.
	file := model.InvoiceFile{
		SchemaVersion: invoqyaml.CurrentSchemaVersion,
		FileType:      invoqyaml.FileTypeInvoiceStore,
		Invoices:      testInvoices(),
	}
	if err := invoqyaml.AtomicWrite(d.repo.Path(), file); err != nil {
		t.Fatalf("rewrite store: %v", err)
	}

	// Overwrite with garbage without going through the atomic writer, the
	// way a crashed external writer would leave it.
	if err := os.WriteFile(d.repo.Path(), []byte("{{{not yaml"), 0644); err != nil {
		t.Fatalf("corrupt store: %v", err)
	}

	d.recoverStore()

	// The backup from setup still holds the original invoices.
	all, err := d.repo.List()
	if err != nil {
		t.Fatalf("store not recovered: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("recovered %d invoices, want 3", len(all))
	}

	entries, err := os.ReadDir(filepath.Join(d.invoqDir, "quarantine"))
	if err != nil || len(entries) == 0 {
		t.Errorf("corrupt file not quarantined: %v", err)
	}
}

func TestRecoverStore_MissingFile(t *testing.T) {
	d := setupTestDaemon(t, testInvoices())
	if err := os.Remove(d.repo.Path()); err != nil {
		t.Fatalf("remove store: %v", err)
	}

	d.recoverStore()

	all, err := d.repo.List()
	if err != nil {
		t.Fatalf("skeleton not written: %v", err)
	}
	if len(all) != 0 {
		t.Errorf("skeleton has %d invoices, want 0", len(all))
	}
}

func TestHandleStatus_StoreUnreadable(t *testing.T) {
	d := setupTestDaemon(t, testInvoices())
	if err := os.Remove(d.repo.Path()); err != nil {
		t.Fatalf("remove store: %v", err)
	}

	resp := d.handleStatus(mustRequest(t, "status", nil))
	if resp.Success {
		t.Fatal("expected error for missing store")
	}
	if resp.Error.Code != uds.ErrCodeInternal {
		t.Errorf("error code = %s, want %s", resp.Error.Code, uds.ErrCodeInternal)
	}
}
