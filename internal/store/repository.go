// Package store reads and writes the invoice store file. It is the only
// component that touches invoices.yaml; everything else consumes the
// repository interface.
package store

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	yamlv3 "gopkg.in/yaml.v3"

	"github.com/mizanhasan/invoq/internal/lock"
	"github.com/mizanhasan/invoq/internal/model"
	invoqyaml "github.com/mizanhasan/invoq/internal/yaml"
)

// FileRepository is a YAML-file invoice repository. Invoices are
// validated at this boundary; components past it can rely on the
// fixed record shape.
type FileRepository struct {
	path     string
	locks    *lock.MutexMap
	validate *validator.Validate
}

func NewFileRepository(path string) *FileRepository {
	return &FileRepository{
		path:     path,
		locks:    lock.NewMutexMap(),
		validate: validator.New(),
	}
}

// Path returns the store file path.
func (r *FileRepository) Path() string {
	return r.path
}

// List loads and validates every invoice in the store file.
func (r *FileRepository) List() ([]model.Invoice, error) {
	r.locks.Lock(r.path)
	defer r.locks.Unlock(r.path)
	file, err := r.loadLocked()
	if err != nil {
		return nil, err
	}
	return file.Invoices, nil
}

// ListUnsynced returns invoices with status pending or review, preserving
// their order in the store file. That order is the queue's tie-break.
func (r *FileRepository) ListUnsynced() ([]model.Invoice, error) {
	all, err := r.List()
	if err != nil {
		return nil, err
	}
	var out []model.Invoice
	for _, inv := range all {
		if model.IsDrainEligible(inv.Status) {
			out = append(out, inv)
		}
	}
	return out, nil
}

// UpdateStatus transitions one invoice's status and rewrites the store
// file atomically.
func (r *FileRepository) UpdateStatus(invoiceID string, status model.InvoiceStatus) error {
	r.locks.Lock(r.path)
	defer r.locks.Unlock(r.path)

	file, err := r.loadLocked()
	if err != nil {
		return err
	}

	found := false
	for i, inv := range file.Invoices {
		if inv.ID != invoiceID {
			continue
		}
		if err := model.ValidateStatusTransition(inv.Status, status); err != nil {
			return fmt.Errorf("invoice %s: %w", invoiceID, err)
		}
		file.Invoices[i].Status = status
		found = true
		break
	}
	if !found {
		return fmt.Errorf("invoice %s not found", invoiceID)
	}

	if err := invoqyaml.AtomicWrite(r.path, file); err != nil {
		return fmt.Errorf("write store: %w", err)
	}
	return nil
}

// Stats summarizes the store for the status surface.
func (r *FileRepository) Stats() (model.StoreStats, error) {
	all, err := r.List()
	if err != nil {
		return model.StoreStats{}, err
	}

	stats := model.StoreStats{Total: len(all)}
	confidenceSum := 0
	for _, inv := range all {
		switch inv.Status {
		case model.StatusSynced:
			stats.Synced++
		case model.StatusPending:
			stats.Pending++
		case model.StatusReview:
			stats.Review++
		}
		confidenceSum += inv.Confidence
	}
	if len(all) > 0 {
		stats.AvgConfidence = (confidenceSum + len(all)/2) / len(all)
	}
	return stats, nil
}

func (r *FileRepository) loadLocked() (*model.InvoiceFile, error) {
	content, err := os.ReadFile(r.path)
	if err != nil {
		return nil, fmt.Errorf("read store: %w", err)
	}

	if err := invoqyaml.ValidateSchemaHeaderFromBytes(content, invoqyaml.FileTypeInvoiceStore); err != nil {
		return nil, fmt.Errorf("store %s: %w", r.path, err)
	}

	var file model.InvoiceFile
	if err := yamlv3.Unmarshal(content, &file); err != nil {
		return nil, fmt.Errorf("parse store: %w", err)
	}

	seen := make(map[string]bool, len(file.Invoices))
	for i, inv := range file.Invoices {
		if err := r.validate.Struct(inv); err != nil {
			return nil, fmt.Errorf("invoice %d (%s): %w", i, inv.ID, err)
		}
		if seen[inv.ID] {
			return nil, fmt.Errorf("duplicate invoice id %s", inv.ID)
		}
		seen[inv.ID] = true
	}

	return &file, nil
}

// WriteSkeleton creates an empty, well-formed store file. Used by init.
func WriteSkeleton(path string) error {
	file := model.InvoiceFile{
		SchemaVersion: invoqyaml.CurrentSchemaVersion,
		FileType:      invoqyaml.FileTypeInvoiceStore,
		Invoices:      []model.Invoice{},
	}
	return invoqyaml.AtomicWrite(path, file)
}
