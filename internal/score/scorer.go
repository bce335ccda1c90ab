// Package score computes sync priorities for queued invoices.
package score

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mizanhasan/invoq/internal/model"
	"github.com/mizanhasan/invoq/internal/money"
)

const (
	ageWeight        = 0.40
	amountWeight     = 0.30
	confidenceWeight = 0.30

	// An invoice three days old saturates the age factor.
	ageHorizonHours = 72.0
	// Amounts at or above this magnitude saturate the amount factor.
	amountCap = 100000.0

	// Reason thresholds, checked in this order.
	lowConfidenceThreshold = 70
	highValueThreshold     = 50000.0
	staleAgeHours          = 48.0
)

const dateLayout = "2006-01-02"

// Score derives the priority of syncing one invoice at the given instant.
// It is pure and deterministic. A malformed amount does not fail scoring:
// the amount factor falls back to zero and the *money.ParseError is
// returned alongside the score as a diagnostic.
func Score(inv model.Invoice, now time.Time) (model.PriorityScore, error) {
	ageHours := ageInHours(inv.Date, now)

	amount, parseErr := money.Parse(inv.Amount)
	amountValue, _ := amount.Float64()

	ageScore := math.Min(ageHours/ageHorizonHours, 1)
	amountScore := math.Min(amountValue/amountCap, 1)
	confidenceScore := float64(100-inv.Confidence) / 100

	value := int(math.Round((ageScore*ageWeight + amountScore*amountWeight + confidenceScore*confidenceWeight) * 100))
	if value < 0 {
		value = 0
	}
	if value > 100 {
		value = 100
	}

	return model.PriorityScore{
		Value:               value,
		Reason:              reason(inv.Confidence, amount, ageHours),
		AgeWeightPct:        int(math.Round(ageScore * ageWeight * 100)),
		AmountWeightPct:     int(math.Round(amountScore * amountWeight * 100)),
		ConfidenceWeightPct: int(math.Round(confidenceScore * confidenceWeight * 100)),
		AgeLabel:            ageLabel(ageHours),
	}, parseErr
}

// ageInHours returns the absolute elapsed hours between the invoice date
// and now. Future-dated invoices never produce a negative factor. An
// unparsable date counts as age zero.
func ageInHours(date string, now time.Time) float64 {
	d, err := time.Parse(dateLayout, date)
	if err != nil {
		return 0
	}
	return math.Abs(now.Sub(d).Hours())
}

// reason returns the first matching explanation rule. Low extraction
// confidence wins over value and age.
func reason(confidence int, amount decimal.Decimal, ageHours float64) string {
	switch {
	case confidence < lowConfidenceThreshold:
		return "low confidence, requires review"
	case amount.GreaterThan(decimal.NewFromFloat(highValueThreshold)):
		return "high-value invoice"
	case ageHours > staleAgeHours:
		return "older than 2 days"
	default:
		return ""
	}
}

func ageLabel(ageHours float64) string {
	switch {
	case ageHours < 1:
		return fmt.Sprintf("%dm ago", int(math.Round(ageHours*60)))
	case ageHours < 24:
		return fmt.Sprintf("%dh ago", int(math.Round(ageHours)))
	default:
		return fmt.Sprintf("%dd ago", int(math.Round(ageHours/24)))
	}
}
