package compliance

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"processing-api/internal/audit"
	"processing-api/internal/config"
	"processing-api/internal/external"
	"processing-api/internal/models"
)

// Engine runs anti-money-laundering screening and regulatory transaction
// monitoring. Rules only ever raise the risk level; the aggregate is the
// maximum any rule produced.
type Engine struct {
	highValueThreshold   decimal.Decimal
	velocityThreshold    int
	velocityWindow       time.Duration
	roundAmountMinimum   decimal.Decimal
	roundAmountStep      decimal.Decimal
	structuringAmount    decimal.Decimal
	exchangeSARThreshold decimal.Decimal
	restrictedCountries  map[string]bool

	sanctions external.SanctionsScreen
	audit     *audit.Logger
	log       *logrus.Entry
}

func NewEngine(cfg config.ComplianceConfig, sanctions external.SanctionsScreen, auditLog *audit.Logger) *Engine {
	restricted := make(map[string]bool, len(cfg.RestrictedCountries))
	for _, country := range cfg.RestrictedCountries {
		restricted[strings.ToUpper(country)] = true
	}

	velocityWindow := cfg.VelocityWindow
	if velocityWindow == 0 {
		velocityWindow = time.Hour
	}

	return &Engine{
		highValueThreshold:   decimal.NewFromFloat(cfg.HighValueThreshold),
		velocityThreshold:    cfg.VelocityThreshold,
		velocityWindow:       velocityWindow,
		roundAmountMinimum:   decimal.NewFromFloat(cfg.RoundAmountMinimum),
		roundAmountStep:      decimal.NewFromInt(1000),
		structuringAmount:    decimal.NewFromFloat(cfg.StructuringAmount),
		exchangeSARThreshold: decimal.NewFromFloat(cfg.ExchangeSARThreshold),
		restrictedCountries:  restricted,
		sanctions:            sanctions,
		audit:                auditLog,
		log:                  logrus.WithField("component", "compliance_engine"),
	}
}

// PerformAMLCheck screens a transaction against the AML rule set. The
// recent slice is the user's transaction history used for velocity analysis.
func (e *Engine) PerformAMLCheck(ctx context.Context, transaction *models.Transaction, recent []*models.TransactionRecord) *models.AMLResult {
	flags := []string{}
	requiredActions := []string{}
	riskLevel := models.RiskLow

	if transaction.Amount.GreaterThanOrEqual(e.highValueThreshold) {
		flags = append(flags, models.FlagHighValue)
		requiredActions = append(requiredActions, models.ActionManualReview, models.ActionEnhancedDueDiligence)
		riskLevel = riskLevel.Max(models.RiskHigh)
	}

	// The screened transaction counts toward its own window, so the
	// threshold-th submission within the window trips the rule.
	if e.countRecentTransactions(transaction, recent)+1 >= e.velocityThreshold {
		flags = append(flags, models.FlagSuspiciousVelocity)
		requiredActions = append(requiredActions, models.ActionTransactionMonitoring)
		riskLevel = riskLevel.Max(models.RiskHigh)
	}

	if e.restrictedCountries[transaction.SourceCountry] || e.restrictedCountries[transaction.DestinationCountry] {
		flags = append(flags, models.FlagRestrictedCountry)
		requiredActions = append(requiredActions, models.ActionBlockTransaction, models.ActionReportToAuthorities)
		riskLevel = riskLevel.Max(models.RiskCritical)
	}

	if e.isRoundAmountPattern(transaction.Amount) {
		flags = append(flags, models.FlagRoundAmountStructuring)
		requiredActions = append(requiredActions, models.ActionAdditionalVerify)
		riskLevel = riskLevel.Max(models.RiskMedium)
	}

	// Cross-border movement is reportable but not itself riskier.
	if transaction.IsCrossBorder() {
		flags = append(flags, models.FlagCrossBorder)
		requiredActions = append(requiredActions, models.ActionCrossBorderReporting)
	}

	result := &models.AMLResult{
		RiskLevel:       riskLevel,
		Flags:           flags,
		RequiredActions: requiredActions,
	}
	result.Compliant = !result.HasAction(models.ActionBlockTransaction)

	severity := audit.SeverityMedium
	if riskLevel == models.RiskCritical {
		severity = audit.SeverityCritical
	}
	e.audit.Record(ctx, "aml_check", severity, map[string]interface{}{
		"transaction_id": transaction.TransactionID,
		"user_id":        transaction.UserID,
		"amount":         transaction.Amount.String(),
		"currency":       transaction.Currency,
		"risk_level":     riskLevel.String(),
		"flags":          flags,
		"compliant":      result.Compliant,
	})

	return result
}

// MonitorTransaction applies regulatory monitoring: filing thresholds,
// structuring heuristics and sanctions screening. A screening outage is
// returned as an error; callers must not treat it as approval.
func (e *Engine) MonitorTransaction(ctx context.Context, transaction *models.Transaction) (*models.MonitoringResult, error) {
	holds := []string{}
	reportingRequired := []string{}
	escalations := []string{}

	if transaction.Amount.GreaterThanOrEqual(e.highValueThreshold) {
		reportingRequired = append(reportingRequired, models.ReportCTRFiling)
	}

	if e.looksSuspicious(transaction) {
		reportingRequired = append(reportingRequired, models.ReportSARFiling)
		escalations = append(escalations, models.EscalationOfficerReview)
	}

	screen, err := e.sanctions.Screen(ctx, transaction)
	if err != nil {
		e.audit.Record(ctx, "sanctions_screen_failed", audit.SeverityHigh, map[string]interface{}{
			"transaction_id": transaction.TransactionID,
			"user_id":        transaction.UserID,
			"error":          err.Error(),
		})
		return nil, err
	}

	sanctionsHit := screen.Hit
	if sanctionsHit {
		holds = append(holds, models.HoldOFACSanctions)
		escalations = append(escalations, models.EscalationImmediateFreeze)
		reportingRequired = append(reportingRequired, models.ReportOFACBlocking)
	}

	result := &models.MonitoringResult{
		Approved:          len(holds) == 0,
		Holds:             holds,
		ReportingRequired: reportingRequired,
		Escalations:       escalations,
	}

	severity := audit.SeverityMedium
	if sanctionsHit {
		severity = audit.SeverityCritical
	}
	e.audit.Record(ctx, "transaction_monitoring", severity, map[string]interface{}{
		"transaction_id":     transaction.TransactionID,
		"user_id":            transaction.UserID,
		"amount":             transaction.Amount.String(),
		"approved":           result.Approved,
		"holds":              holds,
		"reporting_required": reportingRequired,
		"sanctions_list":     screen.ListName,
	})

	return result, nil
}

func (e *Engine) countRecentTransactions(transaction *models.Transaction, recent []*models.TransactionRecord) int {
	cutoff := transaction.CreatedAt.Add(-e.velocityWindow)
	count := 0
	for _, record := range recent {
		if record.TransactionID == transaction.TransactionID {
			continue
		}
		if record.CreatedAt.After(cutoff) {
			count++
		}
	}
	return count
}

// isRoundAmountPattern flags exact multiples of 1000 at or above the
// configured minimum, a common structuring pattern.
func (e *Engine) isRoundAmountPattern(amount decimal.Decimal) bool {
	if amount.LessThan(e.roundAmountMinimum) {
		return false
	}
	return amount.Mod(e.roundAmountStep).IsZero()
}

func (e *Engine) looksSuspicious(transaction *models.Transaction) bool {
	if transaction.Amount.Equal(e.structuringAmount) {
		return true
	}
	if strings.Contains(strings.ToLower(transaction.Purpose), "urgent") {
		return true
	}
	if transaction.Type == models.TypeExchange && transaction.Amount.GreaterThan(e.exchangeSARThreshold) {
		return true
	}
	return false
}

// KYCResult is the outcome of a know-your-customer verification check.
type KYCResult struct {
	Compliant            bool     `json:"compliant"`
	MissingVerifications []string `json:"missing_verifications"`
}

// ValidateKYC checks a customer's verification state for onboarding and
// periodic review.
func (e *Engine) ValidateKYC(ctx context.Context, user *models.User) *KYCResult {
	missing := []string{}
	if !user.IdentityVerified {
		missing = append(missing, "identity")
	}
	if !user.DocumentVerified {
		missing = append(missing, "document")
	}
	if !user.AddressVerified {
		missing = append(missing, "address")
	}

	result := &KYCResult{
		Compliant:            len(missing) == 0,
		MissingVerifications: missing,
	}

	severity := audit.SeverityMedium
	if !result.Compliant {
		severity = audit.SeverityHigh
	}
	e.audit.Record(ctx, "kyc_validation", severity, map[string]interface{}{
		"user_id":   user.UserID,
		"compliant": result.Compliant,
		"missing":   missing,
	})

	return result
}

// GDPRResult is the outcome of a data-protection compliance check.
type GDPRResult struct {
	Compliant bool     `json:"compliant"`
	Issues    []string `json:"issues"`
}

// ValidateGDPR checks consent state for a customer.
func (e *Engine) ValidateGDPR(ctx context.Context, user *models.User) *GDPRResult {
	issues := []string{}
	if !user.DataConsent {
		issues = append(issues, "missing data processing consent")
	}
	if user.DataConsent && user.ConsentUpdatedAt.Before(time.Now().AddDate(-2, 0, 0)) {
		issues = append(issues, "consent older than two years")
	}

	result := &GDPRResult{
		Compliant: len(issues) == 0,
		Issues:    issues,
	}

	e.audit.Record(ctx, "gdpr_validation", audit.SeverityMedium, map[string]interface{}{
		"user_id":   user.UserID,
		"compliant": result.Compliant,
		"issues":    issues,
	})

	return result
}
