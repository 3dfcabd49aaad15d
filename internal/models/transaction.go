package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	TypeTransfer TransactionType = "transfer"
	TypePayment  TransactionType = "payment"
	TypeFee      TransactionType = "fee"
	TypeRefund   TransactionType = "refund"
	TypeExchange TransactionType = "exchange"
)

type TransactionStatus string

const (
	StatusPending          TransactionStatus = "PENDING"
	StatusComplianceReview TransactionStatus = "COMPLIANCE_REVIEW"
	StatusProcessing       TransactionStatus = "PROCESSING"
	StatusApproved         TransactionStatus = "APPROVED"
	StatusRejected         TransactionStatus = "REJECTED"
	StatusCompleted        TransactionStatus = "COMPLETED"
	StatusFailed           TransactionStatus = "FAILED"
	StatusCancelled        TransactionStatus = "CANCELLED"
)

// Transaction is the in-flight representation a submission turns into before
// it enters the compliance and execution queues.
type Transaction struct {
	TransactionID      string            `json:"transaction_id"`
	UserID             int64             `json:"user_id"`
	Type               TransactionType   `json:"type"`
	Amount             decimal.Decimal   `json:"amount"`
	Currency           string            `json:"currency"`
	SourceCountry      string            `json:"source_country"`
	DestinationCountry string            `json:"destination_country"`
	Purpose            string            `json:"purpose"`
	Metadata           map[string]string `json:"metadata,omitempty"`
	CreatedAt          time.Time         `json:"created_at"`
}

// TransactionRecord is the persisted record of a pipeline outcome. Records
// are insert-once: the status is fixed at insert time and never mutated.
type TransactionRecord struct {
	TransactionID string            `json:"transaction_id"`
	UserID        int64             `json:"user_id"`
	Type          TransactionType   `json:"type"`
	Amount        decimal.Decimal   `json:"amount"`
	Currency      string            `json:"currency"`
	Status        TransactionStatus `json:"status"`
	NetworkFee    decimal.Decimal   `json:"network_fee"`
	ExchangeRate  decimal.Decimal   `json:"exchange_rate"`
	Flags         []string          `json:"flags,omitempty"`
	Reference     string            `json:"reference,omitempty"`
	FailureReason string            `json:"failure_reason,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	FinalizedAt   time.Time         `json:"finalized_at"`
}

func NewTransaction(userID int64, txType TransactionType, amount decimal.Decimal, currency, sourceCountry, destinationCountry, purpose string, metadata map[string]string) *Transaction {
	now := time.Now()
	return &Transaction{
		TransactionID:      fmt.Sprintf("TXN-%d-%s", now.Unix(), uuid.New().String()[:8]),
		UserID:             userID,
		Type:               txType,
		Amount:             amount,
		Currency:           strings.ToUpper(currency),
		SourceCountry:      strings.ToUpper(sourceCountry),
		DestinationCountry: strings.ToUpper(destinationCountry),
		Purpose:            purpose,
		Metadata:           metadata,
		CreatedAt:          now,
	}
}

// Validate checks the structural invariants every transaction must satisfy
// before it is allowed into the pipeline.
func (t *Transaction) Validate() error {
	if t.UserID <= 0 {
		return fmt.Errorf("invalid user ID")
	}

	validTypes := []TransactionType{TypeTransfer, TypePayment, TypeFee, TypeRefund, TypeExchange}
	isValidType := false
	for _, tType := range validTypes {
		if t.Type == tType {
			isValidType = true
			break
		}
	}
	if !isValidType {
		return fmt.Errorf("invalid transaction type: %s", t.Type)
	}

	if t.Amount.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("transaction amount must be positive")
	}

	if len(t.Currency) != 3 {
		return fmt.Errorf("invalid currency code: %s", t.Currency)
	}

	if len(t.SourceCountry) != 2 {
		return fmt.Errorf("invalid source country code: %s", t.SourceCountry)
	}

	if len(t.DestinationCountry) != 2 {
		return fmt.Errorf("invalid destination country code: %s", t.DestinationCountry)
	}

	if strings.TrimSpace(t.Purpose) == "" {
		return fmt.Errorf("transaction purpose is required")
	}

	return nil
}

// IsOutgoing returns true if settlement must deduct funds from the sender.
func (t *Transaction) IsOutgoing() bool {
	return t.Type == TypeTransfer || t.Type == TypePayment
}

// IsCrossBorder returns true if source and destination countries differ.
func (t *Transaction) IsCrossBorder() bool {
	return t.SourceCountry != t.DestinationCountry
}

// NewRecord builds the terminal record for this transaction.
func (t *Transaction) NewRecord(status TransactionStatus, networkFee, exchangeRate decimal.Decimal, flags []string, reference, failureReason string) *TransactionRecord {
	return &TransactionRecord{
		TransactionID: t.TransactionID,
		UserID:        t.UserID,
		Type:          t.Type,
		Amount:        t.Amount,
		Currency:      t.Currency,
		Status:        status,
		NetworkFee:    networkFee,
		ExchangeRate:  exchangeRate,
		Flags:         flags,
		Reference:     reference,
		FailureReason: failureReason,
		Metadata:      t.Metadata,
		CreatedAt:     t.CreatedAt,
		FinalizedAt:   time.Now(),
	}
}
