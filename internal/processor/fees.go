package processor

import (
	"github.com/shopspring/decimal"

	"processing-api/internal/models"
)

var (
	crossBorderFeeRate = decimal.NewFromFloat(0.005)
	nonUSDFeeRate      = decimal.NewFromFloat(0.002)
	minimumFee         = decimal.NewFromInt(5)
)

// calculateNetworkFee prices a transaction: 0.5% for cross-border movement
// plus 0.2% for non-USD denominations, floored at the minimum absolute fee.
func calculateNetworkFee(transaction *models.Transaction) decimal.Decimal {
	fee := decimal.Zero

	if transaction.IsCrossBorder() {
		fee = fee.Add(transaction.Amount.Mul(crossBorderFeeRate))
	}

	if transaction.Currency != "USD" {
		fee = fee.Add(transaction.Amount.Mul(nonUSDFeeRate))
	}

	if fee.LessThan(minimumFee) {
		return minimumFee
	}

	return fee.Round(2)
}
