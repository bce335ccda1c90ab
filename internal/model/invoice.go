// Package model defines the shared data structures of invoq.
package model

// Invoice is one scanned invoice record as stored on disk. Amount is the
// raw extracted string, currency symbol and grouping included; it is
// normalized at scoring time, never rewritten in the store.
type Invoice struct {
	ID         string        `yaml:"id" json:"id" validate:"required"`
	Supplier   string        `yaml:"supplier" json:"supplier" validate:"required"`
	Date       string        `yaml:"date" json:"date" validate:"required,datetime=2006-01-02"`
	Amount     string        `yaml:"amount" json:"amount" validate:"required"`
	Status     InvoiceStatus `yaml:"status" json:"status" validate:"required,oneof=synced pending review"`
	Confidence int           `yaml:"confidence" json:"confidence" validate:"gte=0,lte=100"`
}

// InvoiceFile is the on-disk shape of the invoice store.
type InvoiceFile struct {
	SchemaVersion int       `yaml:"schema_version"`
	FileType      string    `yaml:"file_type"`
	Invoices      []Invoice `yaml:"invoices"`
}

// StoreStats summarizes the store for the status surface.
type StoreStats struct {
	Total         int `json:"total"`
	Synced        int `json:"synced"`
	Pending       int `json:"pending"`
	Review        int `json:"review"`
	AvgConfidence int `json:"avg_confidence"`
}
