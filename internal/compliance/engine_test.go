package compliance

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"processing-api/internal/audit"
	"processing-api/internal/config"
	"processing-api/internal/external"
	"processing-api/internal/models"
)

func testComplianceConfig() config.ComplianceConfig {
	return config.ComplianceConfig{
		HighValueThreshold:   10000,
		VelocityThreshold:    5,
		VelocityWindow:       time.Hour,
		RoundAmountMinimum:   5000,
		StructuringAmount:    9999,
		ExchangeSARThreshold: 5000,
		RestrictedCountries:  []string{"KP", "IR", "SY", "CU"},
	}
}

func testAuditLogger() *audit.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return audit.NewLogger(log)
}

func newTestEngine(sanctions external.SanctionsScreen) *Engine {
	if sanctions == nil {
		sanctions = external.NewNoHitSanctionsScreen()
	}
	return NewEngine(testComplianceConfig(), sanctions, testAuditLogger())
}

func testTransaction(amount float64, txType models.TransactionType, source, destination string) *models.Transaction {
	return models.NewTransaction(42, txType, decimal.NewFromFloat(amount), "USD", source, destination, "invoice payment", nil)
}

// failingSanctionsScreen simulates a screening provider outage.
type failingSanctionsScreen struct{}

func (failingSanctionsScreen) Screen(ctx context.Context, transaction *models.Transaction) (*external.ScreenResult, error) {
	return nil, errors.New("provider unreachable")
}

func TestEngine_PerformAMLCheck(t *testing.T) {
	tests := []struct {
		name          string
		transaction   *models.Transaction
		recent        []*models.TransactionRecord
		wantFlags     []string
		wantRiskLevel models.RiskLevel
		wantCompliant bool
	}{
		{
			name:          "small domestic transfer is clean",
			transaction:   testTransaction(100, models.TypeTransfer, "US", "US"),
			wantFlags:     []string{},
			wantRiskLevel: models.RiskLow,
			wantCompliant: true,
		},
		{
			name:        "high value raises HIGH and requires review",
			transaction: testTransaction(15500, models.TypeTransfer, "US", "US"),
			wantFlags: []string{
				models.FlagHighValue,
			},
			wantRiskLevel: models.RiskHigh,
			wantCompliant: true,
		},
		{
			name:        "restricted destination is CRITICAL and non-compliant",
			transaction: testTransaction(100, models.TypeTransfer, "US", "KP"),
			wantFlags: []string{
				models.FlagRestrictedCountry,
				models.FlagCrossBorder,
			},
			wantRiskLevel: models.RiskCritical,
			wantCompliant: false,
		},
		{
			name:        "restricted source is flagged the same as destination",
			transaction: testTransaction(100, models.TypeTransfer, "IR", "US"),
			wantFlags: []string{
				models.FlagRestrictedCountry,
				models.FlagCrossBorder,
			},
			wantRiskLevel: models.RiskCritical,
			wantCompliant: false,
		},
		{
			name:        "round amount at minimum raises MEDIUM",
			transaction: testTransaction(5000, models.TypeTransfer, "US", "US"),
			wantFlags: []string{
				models.FlagRoundAmountStructuring,
			},
			wantRiskLevel: models.RiskMedium,
			wantCompliant: true,
		},
		{
			name:          "round amount below minimum is not flagged",
			transaction:   testTransaction(4000, models.TypeTransfer, "US", "US"),
			wantFlags:     []string{},
			wantRiskLevel: models.RiskLow,
			wantCompliant: true,
		},
		{
			name:          "non-round amount above minimum is not flagged",
			transaction:   testTransaction(5001, models.TypeTransfer, "US", "US"),
			wantFlags:     []string{},
			wantRiskLevel: models.RiskLow,
			wantCompliant: true,
		},
		{
			name:        "cross-border adds flag without raising risk",
			transaction: testTransaction(100, models.TypeTransfer, "US", "GB"),
			wantFlags: []string{
				models.FlagCrossBorder,
			},
			wantRiskLevel: models.RiskLow,
			wantCompliant: true,
		},
		{
			name:        "fifth transaction inside the window raises HIGH",
			transaction: testTransaction(100, models.TypeTransfer, "US", "US"),
			recent:      recentRecords(4, 10*time.Minute),
			wantFlags: []string{
				models.FlagSuspiciousVelocity,
			},
			wantRiskLevel: models.RiskHigh,
			wantCompliant: true,
		},
		{
			name:          "fourth transaction inside the window stays clean",
			transaction:   testTransaction(100, models.TypeTransfer, "US", "US"),
			recent:        recentRecords(3, 10*time.Minute),
			wantFlags:     []string{},
			wantRiskLevel: models.RiskLow,
			wantCompliant: true,
		},
		{
			name:          "stale history does not trip velocity",
			transaction:   testTransaction(100, models.TypeTransfer, "US", "US"),
			recent:        recentRecords(5, 2*time.Hour),
			wantFlags:     []string{},
			wantRiskLevel: models.RiskLow,
			wantCompliant: true,
		},
		{
			name:        "high value round cross-border stacks flags and keeps max level",
			transaction: testTransaction(20000, models.TypeTransfer, "US", "GB"),
			wantFlags: []string{
				models.FlagHighValue,
				models.FlagRoundAmountStructuring,
				models.FlagCrossBorder,
			},
			wantRiskLevel: models.RiskHigh,
			wantCompliant: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := newTestEngine(nil)

			result := engine.PerformAMLCheck(context.Background(), tt.transaction, tt.recent)

			assert.ElementsMatch(t, tt.wantFlags, result.Flags)
			assert.Equal(t, tt.wantRiskLevel, result.RiskLevel)
			assert.Equal(t, tt.wantCompliant, result.Compliant)
		})
	}
}

func recentRecords(count int, age time.Duration) []*models.TransactionRecord {
	records := make([]*models.TransactionRecord, 0, count)
	for i := 0; i < count; i++ {
		records = append(records, &models.TransactionRecord{
			TransactionID: "TXN-history",
			UserID:        42,
			Status:        models.StatusCompleted,
			CreatedAt:     time.Now().Add(-age),
		})
	}
	return records
}

func TestEngine_PerformAMLCheck_RequiredActions(t *testing.T) {
	engine := newTestEngine(nil)

	result := engine.PerformAMLCheck(context.Background(), testTransaction(100, models.TypeTransfer, "US", "KP"), nil)

	assert.True(t, result.HasAction(models.ActionBlockTransaction))
	assert.True(t, result.HasAction(models.ActionReportToAuthorities))
	assert.False(t, result.Compliant)
}

func TestEngine_MonitorTransaction(t *testing.T) {
	tests := []struct {
		name            string
		transaction     *models.Transaction
		wantApproved    bool
		wantReports     []string
		wantEscalations []string
	}{
		{
			name:         "small transfer passes clean",
			transaction:  testTransaction(100, models.TypeTransfer, "US", "US"),
			wantApproved: true,
		},
		{
			name:         "high value requires CTR filing but stays approved",
			transaction:  testTransaction(12000, models.TypeTransfer, "US", "US"),
			wantApproved: true,
			wantReports:  []string{models.ReportCTRFiling},
		},
		{
			name:            "structuring amount triggers SAR and officer review",
			transaction:     testTransaction(9999, models.TypeTransfer, "US", "US"),
			wantApproved:    true,
			wantReports:     []string{models.ReportSARFiling},
			wantEscalations: []string{models.EscalationOfficerReview},
		},
		{
			name: "urgent purpose triggers SAR",
			transaction: models.NewTransaction(42, models.TypeTransfer, decimal.NewFromInt(200),
				"USD", "US", "US", "URGENT family support", nil),
			wantApproved:    true,
			wantReports:     []string{models.ReportSARFiling},
			wantEscalations: []string{models.EscalationOfficerReview},
		},
		{
			name:            "large exchange triggers SAR",
			transaction:     testTransaction(6000, models.TypeExchange, "US", "US"),
			wantApproved:    true,
			wantReports:     []string{models.ReportSARFiling},
			wantEscalations: []string{models.EscalationOfficerReview},
		},
		{
			name:         "exchange at SAR threshold is not suspicious",
			transaction:  testTransaction(5000, models.TypeExchange, "US", "US"),
			wantApproved: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := newTestEngine(nil)

			result, err := engine.MonitorTransaction(context.Background(), tt.transaction)
			require.NoError(t, err)

			assert.Equal(t, tt.wantApproved, result.Approved)
			assert.ElementsMatch(t, tt.wantReports, result.ReportingRequired)
			assert.ElementsMatch(t, tt.wantEscalations, result.Escalations)
			assert.Empty(t, result.Holds)
		})
	}
}

func TestEngine_MonitorTransaction_SanctionsHit(t *testing.T) {
	engine := newTestEngine(&external.StaticSanctionsScreen{
		ListName:     "SDN",
		FlaggedUsers: map[int64]bool{42: true},
	})

	result, err := engine.MonitorTransaction(context.Background(), testTransaction(100, models.TypeTransfer, "US", "US"))
	require.NoError(t, err)

	assert.False(t, result.Approved)
	assert.Contains(t, result.Holds, models.HoldOFACSanctions)
	assert.Contains(t, result.Escalations, models.EscalationImmediateFreeze)
	assert.Contains(t, result.ReportingRequired, models.ReportOFACBlocking)
}

func TestEngine_MonitorTransaction_ScreeningOutageReturnsError(t *testing.T) {
	engine := newTestEngine(failingSanctionsScreen{})

	result, err := engine.MonitorTransaction(context.Background(), testTransaction(100, models.TypeTransfer, "US", "US"))

	assert.Error(t, err)
	assert.Nil(t, result)
}

func TestEngine_ValidateKYC(t *testing.T) {
	tests := []struct {
		name        string
		user        *models.User
		wantMissing []string
	}{
		{
			name: "fully verified user is compliant",
			user: &models.User{
				UserID:           1,
				IdentityVerified: true,
				DocumentVerified: true,
				AddressVerified:  true,
			},
			wantMissing: []string{},
		},
		{
			name: "unverified user reports every gap",
			user: &models.User{
				UserID: 2,
			},
			wantMissing: []string{"identity", "document", "address"},
		},
		{
			name: "partially verified user reports remaining gap",
			user: &models.User{
				UserID:           3,
				IdentityVerified: true,
				DocumentVerified: true,
			},
			wantMissing: []string{"address"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := newTestEngine(nil)

			result := engine.ValidateKYC(context.Background(), tt.user)

			assert.Equal(t, len(tt.wantMissing) == 0, result.Compliant)
			assert.ElementsMatch(t, tt.wantMissing, result.MissingVerifications)
		})
	}
}

func TestEngine_ValidateGDPR(t *testing.T) {
	engine := newTestEngine(nil)

	t.Run("fresh consent is compliant", func(t *testing.T) {
		result := engine.ValidateGDPR(context.Background(), &models.User{
			UserID:           1,
			DataConsent:      true,
			ConsentUpdatedAt: time.Now().AddDate(0, -6, 0),
		})
		assert.True(t, result.Compliant)
		assert.Empty(t, result.Issues)
	})

	t.Run("missing consent is reported", func(t *testing.T) {
		result := engine.ValidateGDPR(context.Background(), &models.User{UserID: 2})
		assert.False(t, result.Compliant)
		assert.Contains(t, result.Issues, "missing data processing consent")
	})

	t.Run("expired consent is reported", func(t *testing.T) {
		result := engine.ValidateGDPR(context.Background(), &models.User{
			UserID:           3,
			DataConsent:      true,
			ConsentUpdatedAt: time.Now().AddDate(-3, 0, 0),
		})
		assert.False(t, result.Compliant)
		assert.Contains(t, result.Issues, "consent older than two years")
	})
}
