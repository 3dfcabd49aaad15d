package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"processing-api/internal/models"
)

var (
	ErrUserNotFound   = errors.New("user not found")
	ErrRecordNotFound = errors.New("transaction record not found")
)

// Gateway is the pipeline's only window onto account state. Implementations
// must serialize balance writes per (user, currency); callers perform
// read-modify-write and rely on that.
type Gateway interface {
	GetBalance(ctx context.Context, userID int64, currency string) (decimal.Decimal, error)
	SetBalance(ctx context.Context, userID int64, currency string, amount decimal.Decimal) error
	GetUser(ctx context.Context, userID int64) (*models.User, error)
	GetRecentTransactions(ctx context.Context, userID int64, limit int64) ([]*models.TransactionRecord, error)
	GetDailyVolume(ctx context.Context, userID int64, since time.Time) (decimal.Decimal, error)
	GetTransactionRecord(ctx context.Context, transactionID string) (*models.TransactionRecord, error)
	PersistTransactionRecord(ctx context.Context, record *models.TransactionRecord) error
}
