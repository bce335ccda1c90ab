package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mizanhasan/invoq/internal/model"
	invoqyaml "github.com/mizanhasan/invoq/internal/yaml"
)

func writeStore(t *testing.T, invoices []model.Invoice) *FileRepository {
	t.Helper()
	path := filepath.Join(t.TempDir(), "invoices.yaml")
	file := model.InvoiceFile{
		SchemaVersion: invoqyaml.CurrentSchemaVersion,
		FileType:      invoqyaml.FileTypeInvoiceStore,
		Invoices:      invoices,
	}
	require.NoError(t, invoqyaml.AtomicWrite(path, file))
	return NewFileRepository(path)
}

func sampleInvoices() []model.Invoice {
	return []model.Invoice{
		{ID: "INV-001", Supplier: "Dhaka Steel Ltd", Date: "2025-11-05", Amount: "৳45,230", Status: model.StatusSynced, Confidence: 95},
		{ID: "INV-002", Supplier: "Bengal Traders", Date: "2025-11-04", Amount: "৳12,450", Status: model.StatusPending, Confidence: 72},
		{ID: "INV-003", Supplier: "রহিম টেক্সটাইল", Date: "2025-11-03", Amount: "৳89,100", Status: model.StatusReview, Confidence: 68},
		{ID: "INV-006", Supplier: "Metro Supplies", Date: "2025-11-01", Amount: "৳67,450", Status: model.StatusPending, Confidence: 75},
	}
}

func TestList(t *testing.T) {
	repo := writeStore(t, sampleInvoices())

	all, err := repo.List()
	require.NoError(t, err)
	assert.Len(t, all, 4)
	assert.Equal(t, "Dhaka Steel Ltd", all[0].Supplier)
}

func TestListUnsynced_PreservesSourceOrder(t *testing.T) {
	repo := writeStore(t, sampleInvoices())

	unsynced, err := repo.ListUnsynced()
	require.NoError(t, err)
	require.Len(t, unsynced, 3)
	assert.Equal(t, "INV-002", unsynced[0].ID)
	assert.Equal(t, "INV-003", unsynced[1].ID)
	assert.Equal(t, "INV-006", unsynced[2].ID)
}

func TestUpdateStatus(t *testing.T) {
	repo := writeStore(t, sampleInvoices())

	require.NoError(t, repo.UpdateStatus("INV-002", model.StatusSynced))

	// The write is persisted, not just in memory.
	reloaded := NewFileRepository(repo.Path())
	all, err := reloaded.List()
	require.NoError(t, err)
	for _, inv := range all {
		if inv.ID == "INV-002" {
			assert.Equal(t, model.StatusSynced, inv.Status)
		}
	}
}

func TestUpdateStatus_InvalidTransition(t *testing.T) {
	repo := writeStore(t, sampleInvoices())

	// INV-001 is already synced; synced is terminal for this process.
	err := repo.UpdateStatus("INV-001", model.StatusSynced)
	require.Error(t, err)
}

func TestUpdateStatus_UnknownInvoice(t *testing.T) {
	repo := writeStore(t, sampleInvoices())
	require.Error(t, repo.UpdateStatus("INV-999", model.StatusSynced))
}

func TestList_RejectsInvalidInvoice(t *testing.T) {
	bad := sampleInvoices()
	bad[1].Confidence = 250
	repo := writeStore(t, bad)

	_, err := repo.List()
	require.Error(t, err)
}

func TestList_RejectsBadDate(t *testing.T) {
	bad := sampleInvoices()
	bad[0].Date = "05/11/2025"
	repo := writeStore(t, bad)

	_, err := repo.List()
	require.Error(t, err)
}

func TestList_RejectsDuplicateIDs(t *testing.T) {
	dup := sampleInvoices()
	dup[1].ID = dup[0].ID
	repo := writeStore(t, dup)

	_, err := repo.List()
	require.Error(t, err)
}

func TestList_RejectsWrongFileType(t *testing.T) {
	path := filepath.Join(t.TempDir(), "invoices.yaml")
	require.NoError(t, invoqyaml.AtomicWrite(path, map[string]any{
		"schema_version": 1,
		"file_type":      "config",
	}))

	_, err := NewFileRepository(path).List()
	require.Error(t, err)
}

func TestStats(t *testing.T) {
	repo := writeStore(t, sampleInvoices())

	stats, err := repo.Stats()
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Total)
	assert.Equal(t, 1, stats.Synced)
	assert.Equal(t, 2, stats.Pending)
	assert.Equal(t, 1, stats.Review)
	// (95+72+68+75)/4 = 77.5, rounded
	assert.Equal(t, 78, stats.AvgConfidence)
}

func TestWriteSkeleton(t *testing.T) {
	path := filepath.Join(t.TempDir(), "invoices.yaml")
	require.NoError(t, WriteSkeleton(path))

	repo := NewFileRepository(path)
	all, err := repo.List()
	require.NoError(t, err)
	assert.Empty(t, all)
}
