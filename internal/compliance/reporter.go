package compliance

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"processing-api/internal/models"
)

// Suspicious activity categories used on SAR filings.
const (
	ActivityTerrorismFinancing = "TERRORISM_FINANCING"
	ActivityMoneyLaundering    = "MONEY_LAUNDERING"
	ActivityStructuring        = "STRUCTURING"
	ActivityUnusualPattern     = "UNUSUAL_PATTERN"
)

// SAR filing urgencies.
const (
	UrgencyHigh   = "HIGH"
	UrgencyMedium = "MEDIUM"
	UrgencyLow    = "LOW"
)

// CTRReport is a currency transaction report prepared for filing.
type CTRReport struct {
	ReportID        string          `json:"report_id"`
	TransactionID   string          `json:"transaction_id"`
	CustomerID      int64           `json:"customer_id"`
	CustomerName    string          `json:"customer_name"`
	CustomerCountry string          `json:"customer_country"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	TransactionDate time.Time       `json:"transaction_date"`
	FilingRequired  bool            `json:"filing_required"`
	GeneratedAt     time.Time       `json:"generated_at"`
}

// SARReport is a suspicious activity report prepared for filing.
type SARReport struct {
	ReportID      string          `json:"report_id"`
	TransactionID string          `json:"transaction_id"`
	CustomerID    int64           `json:"customer_id"`
	ActivityType  string          `json:"activity_type"`
	Urgency       string          `json:"urgency"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Indicators    []string        `json:"indicators"`
	Narrative     string          `json:"narrative"`
	GeneratedAt   time.Time       `json:"generated_at"`
}

// Reporter assembles regulatory filings. It only prepares documents; the
// filing hand-off happens over the compliance exchange.
type Reporter struct {
	filingThreshold decimal.Decimal
}

func NewReporter(filingThreshold decimal.Decimal) *Reporter {
	return &Reporter{filingThreshold: filingThreshold}
}

// GenerateCTR prepares a currency transaction report. FilingRequired is set
// when the amount meets the regulatory threshold.
func (r *Reporter) GenerateCTR(transaction *models.Transaction, customer *models.User) *CTRReport {
	now := time.Now()
	return &CTRReport{
		ReportID:        fmt.Sprintf("CTR-%d-%s", now.Unix(), uuid.New().String()[:6]),
		TransactionID:   transaction.TransactionID,
		CustomerID:      customer.UserID,
		CustomerName:    customer.Name,
		CustomerCountry: customer.Country,
		Amount:          transaction.Amount,
		Currency:        transaction.Currency,
		TransactionDate: transaction.CreatedAt,
		FilingRequired:  transaction.Amount.GreaterThanOrEqual(r.filingThreshold),
		GeneratedAt:     now,
	}
}

// GenerateSAR prepares a suspicious activity report. Urgency is derived from
// the activity category.
func (r *Reporter) GenerateSAR(transaction *models.Transaction, activityType string, indicators []string) *SARReport {
	now := time.Now()
	return &SARReport{
		ReportID:      fmt.Sprintf("SAR-%d-%s", now.Unix(), uuid.New().String()[:6]),
		TransactionID: transaction.TransactionID,
		CustomerID:    transaction.UserID,
		ActivityType:  activityType,
		Urgency:       sarUrgency(activityType),
		Amount:        transaction.Amount,
		Currency:      transaction.Currency,
		Indicators:    indicators,
		Narrative: fmt.Sprintf("Transaction %s for %s %s flagged for %s",
			transaction.TransactionID, transaction.Amount.String(), transaction.Currency, activityType),
		GeneratedAt: now,
	}
}

func sarUrgency(activityType string) string {
	switch activityType {
	case ActivityTerrorismFinancing:
		return UrgencyHigh
	case ActivityMoneyLaundering:
		return UrgencyMedium
	default:
		return UrgencyLow
	}
}
