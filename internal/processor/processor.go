package processor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"processing-api/internal/audit"
	"processing-api/internal/compliance"
	"processing-api/internal/config"
	"processing-api/internal/events"
	"processing-api/internal/external"
	"processing-api/internal/ledger"
	"processing-api/internal/models"
	"processing-api/internal/monitoring"
)

// Rejection reasons surfaced to callers.
const (
	ReasonValidationFailed  = "PRE_VALIDATION_FAILED"
	ReasonUserNotFound      = "User not found"
	ReasonAccountSuspended  = "Account suspended"
	ReasonInsufficientFunds = "Insufficient funds"
	ReasonDailyLimit        = "Daily limit exceeded"
	ReasonComplianceReject  = "Rejected by compliance review"
	ReasonInternalError     = "Internal processing error"
)

var validate = validator.New()

// SubmitRequest is the inbound submission shape. The processor assigns the
// transaction id and timestamp.
type SubmitRequest struct {
	UserID             int64             `json:"user_id" validate:"required,gt=0"`
	Type               string            `json:"type" validate:"required,oneof=transfer payment fee refund exchange"`
	Amount             decimal.Decimal   `json:"amount" validate:"required"`
	Currency           string            `json:"currency" validate:"required,len=3"`
	SourceCountry      string            `json:"source_country" validate:"required,len=2"`
	DestinationCountry string            `json:"destination_country" validate:"required,len=2"`
	Purpose            string            `json:"purpose" validate:"required"`
	Metadata           map[string]string `json:"metadata,omitempty"`
}

// ProcessingResult is the synchronous answer to a submission. Later
// transitions are observable on the event channel or by polling status.
type ProcessingResult struct {
	TransactionID       string                   `json:"transaction_id"`
	Status              models.TransactionStatus `json:"status"`
	ApprovalCode        string                   `json:"approval_code,omitempty"`
	RejectionReason     string                   `json:"rejection_reason,omitempty"`
	RiskLevel           string                   `json:"risk_level,omitempty"`
	ComplianceFlags     []string                 `json:"compliance_flags"`
	RequiredActions     []string                 `json:"required_actions,omitempty"`
	NetworkFee          decimal.Decimal          `json:"network_fee"`
	ExchangeRate        decimal.Decimal          `json:"exchange_rate"`
	EstimatedCompletion *time.Time               `json:"estimated_completion,omitempty"`
	ProcessingTimeMs    int64                    `json:"processing_time_ms"`
}

// ProcessingStats is a point-in-time snapshot for dashboards.
type ProcessingStats struct {
	QueueLength             int     `json:"queue_length"`
	ComplianceQueueLength   int     `json:"compliance_queue_length"`
	AverageProcessingTimeMs float64 `json:"average_processing_time_ms"`
	ThroughputPerMinute     float64 `json:"throughput_per_minute"`
}

// StatusView is the answer to a status poll.
type StatusView struct {
	TransactionID string                   `json:"transaction_id"`
	Status        models.TransactionStatus `json:"status"`
	Record        *models.TransactionRecord `json:"record,omitempty"`
}

// IdempotencyStore caches submission results keyed by client idempotency key.
type IdempotencyStore interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// Processor orchestrates the pipeline: validates submissions, runs the
// compliance engine, routes into the review or execution queue, and drains
// both queues on fixed intervals.
type Processor struct {
	cfg       config.ProcessorConfig
	gateway   ledger.Gateway
	engine    *compliance.Engine
	reporter  *compliance.Reporter
	bus       *events.Bus
	network   external.PaymentNetwork
	rates     external.RateProvider
	publisher external.Publisher
	audit     *audit.Logger
	metrics   *monitoring.Metrics
	log       *logrus.Entry

	idempotency    IdempotencyStore
	idempotencyTTL time.Duration

	reviewQueue    *itemQueue
	executionQueue *itemQueue

	cron    *cron.Cron
	runMu   sync.Mutex
	running bool

	statsMu           sync.Mutex
	completions       []time.Time
	durations         []time.Duration
	defaultDailyLimit decimal.Decimal
}

func NewProcessor(
	cfg config.ProcessorConfig,
	gateway ledger.Gateway,
	engine *compliance.Engine,
	reporter *compliance.Reporter,
	bus *events.Bus,
	network external.PaymentNetwork,
	rates external.RateProvider,
	publisher external.Publisher,
	auditLog *audit.Logger,
) *Processor {
	return &Processor{
		cfg:               cfg,
		gateway:           gateway,
		engine:            engine,
		reporter:          reporter,
		bus:               bus,
		network:           network,
		rates:             rates,
		publisher:         publisher,
		audit:             auditLog,
		log:               logrus.WithField("component", "transaction_processor"),
		reviewQueue:       newItemQueue(),
		executionQueue:    newItemQueue(),
		defaultDailyLimit: decimal.NewFromFloat(cfg.DailyLimit),
	}
}

// SetMetrics attaches pipeline metrics. Optional.
func (p *Processor) SetMetrics(m *monitoring.Metrics) {
	p.metrics = m
}

// SetIdempotencyStore attaches a submission result cache. Optional.
func (p *Processor) SetIdempotencyStore(store IdempotencyStore, ttl time.Duration) {
	p.idempotency = store
	p.idempotencyTTL = ttl
}

// Start launches the two drain loops.
func (p *Processor) Start() error {
	p.runMu.Lock()
	defer p.runMu.Unlock()
	if p.running {
		return fmt.Errorf("processor is already running")
	}

	c := cron.New(cron.WithSeconds())

	if _, err := c.AddFunc(p.cfg.ComplianceDrainSpec, func() {
		p.DrainComplianceQueue(context.Background())
	}); err != nil {
		return fmt.Errorf("invalid compliance drain spec: %w", err)
	}

	if _, err := c.AddFunc(p.cfg.ExecutionDrainSpec, func() {
		p.DrainExecutionQueue(context.Background())
	}); err != nil {
		return fmt.Errorf("invalid execution drain spec: %w", err)
	}

	c.Start()
	p.cron = c
	p.running = true

	p.log.WithFields(logrus.Fields{
		"compliance_drain": p.cfg.ComplianceDrainSpec,
		"execution_drain":  p.cfg.ExecutionDrainSpec,
	}).Info("Transaction processor started")

	return nil
}

// Stop halts the drain loops and waits for in-flight drain passes.
func (p *Processor) Stop() {
	p.runMu.Lock()
	defer p.runMu.Unlock()
	if !p.running {
		return
	}
	<-p.cron.Stop().Done()
	p.running = false
	p.log.Info("Transaction processor stopped")
}

// ProcessTransaction is the single entry point. It never blocks on queue
// drains: it returns after validation, one round of ledger pre-checks and
// one compliance screening pass.
func (p *Processor) ProcessTransaction(ctx context.Context, req *SubmitRequest, idempotencyKey string) *ProcessingResult {
	start := time.Now()

	if idempotencyKey != "" && p.idempotency != nil {
		var cached ProcessingResult
		if found, err := p.idempotency.Get(ctx, idempotencyKey, &cached); err == nil && found {
			return &cached
		}
	}

	result := p.process(ctx, req, start)

	if idempotencyKey != "" && p.idempotency != nil {
		if err := p.idempotency.Set(ctx, idempotencyKey, result, p.idempotencyTTL); err != nil {
			p.log.WithError(err).Warn("Failed to cache idempotent result")
		}
	}

	return result
}

func (p *Processor) process(ctx context.Context, req *SubmitRequest, start time.Time) (result *ProcessingResult) {
	transaction := models.NewTransaction(
		req.UserID,
		models.TransactionType(req.Type),
		req.Amount,
		req.Currency,
		req.SourceCountry,
		req.DestinationCountry,
		req.Purpose,
		req.Metadata,
	)

	// Nothing in the pipeline may escape as a panic; the caller always gets
	// a terminal result.
	defer func() {
		if r := recover(); r != nil {
			p.log.WithFields(logrus.Fields{
				"transaction_id": transaction.TransactionID,
				"panic":          r,
			}).Error("Panic during transaction processing")
			p.audit.Record(ctx, "processing_panic", audit.SeverityHigh, map[string]interface{}{
				"transaction_id": transaction.TransactionID,
				"panic":          fmt.Sprintf("%v", r),
			})
			result = p.failResult(transaction, ReasonInternalError, start)
		}
	}()

	if err := validate.Struct(req); err != nil {
		return p.rejectResult(ctx, transaction, ReasonValidationFailed, []string{ReasonValidationFailed}, audit.SeverityLow, start)
	}
	if err := transaction.Validate(); err != nil {
		return p.rejectResult(ctx, transaction, ReasonValidationFailed, []string{ReasonValidationFailed}, audit.SeverityLow, start)
	}

	user, err := p.gateway.GetUser(ctx, transaction.UserID)
	if err != nil {
		if err == ledger.ErrUserNotFound {
			return p.rejectResult(ctx, transaction, ReasonUserNotFound, nil, audit.SeverityMedium, start)
		}
		p.log.WithError(err).Error("Ledger lookup failed during pre-validation")
		return p.failResult(transaction, ReasonInternalError, start)
	}
	if !user.IsActive() {
		return p.rejectResult(ctx, transaction, ReasonAccountSuspended, nil, audit.SeverityMedium, start)
	}

	if transaction.IsOutgoing() {
		balance, err := p.gateway.GetBalance(ctx, transaction.UserID, transaction.Currency)
		if err != nil {
			p.log.WithError(err).Error("Balance lookup failed during pre-validation")
			return p.failResult(transaction, ReasonInternalError, start)
		}
		if balance.LessThan(transaction.Amount) {
			return p.rejectResult(ctx, transaction, ReasonInsufficientFunds, nil, audit.SeverityLow, start)
		}
	}

	if exceeded, err := p.dailyLimitExceeded(ctx, transaction, user); err != nil {
		p.log.WithError(err).Error("Daily volume lookup failed during pre-validation")
		return p.failResult(transaction, ReasonInternalError, start)
	} else if exceeded {
		return p.rejectResult(ctx, transaction, ReasonDailyLimit, nil, audit.SeverityMedium, start)
	}

	p.emit(events.EventStarted, transaction, map[string]interface{}{
		"amount":   transaction.Amount.String(),
		"currency": transaction.Currency,
		"type":     string(transaction.Type),
	})

	recent, err := p.gateway.GetRecentTransactions(ctx, transaction.UserID, p.cfg.RecentHistoryLimit)
	if err != nil {
		p.log.WithError(err).Warn("Failed to load transaction history, velocity check degraded")
		recent = nil
	}

	amlResult := p.engine.PerformAMLCheck(ctx, transaction, recent)

	monitorResult, err := p.engine.MonitorTransaction(ctx, transaction)
	if err != nil {
		// Screening outage must never turn into an approval; the item goes
		// to manual review instead.
		monitorResult = &models.MonitoringResult{
			Approved:    false,
			Escalations: []string{models.EscalationOfficerReview},
		}
	}

	p.fileReports(ctx, transaction, user, amlResult, monitorResult)

	flags := append([]string{}, amlResult.Flags...)
	flags = append(flags, monitorResult.Holds...)

	networkFee := calculateNetworkFee(transaction)
	exchangeRate := p.rates.GetRate(transaction.Currency)

	item := &queueItem{
		Transaction:  transaction,
		Assessment:   amlResult,
		Monitoring:   monitorResult,
		ReviewLevel:  reviewLevel(amlResult, monitorResult),
		NetworkFee:   networkFee,
		ExchangeRate: exchangeRate,
		EnqueuedAt:   time.Now(),
	}

	// High-risk items go through review even when no rule blocked them
	// outright; the review drain auto-approves everything below CRITICAL.
	if !amlResult.Compliant || !monitorResult.Approved || amlResult.RiskLevel >= models.RiskHigh {
		p.reviewQueue.put(item)
		p.updateQueueMetrics()
		p.emit(events.EventComplianceReview, transaction, map[string]interface{}{
			"risk_level": amlResult.RiskLevel.String(),
			"flags":      flags,
			"holds":      monitorResult.Holds,
		})
		p.audit.Record(ctx, "transaction_routed_review", audit.SeverityMedium, map[string]interface{}{
			"transaction_id": transaction.TransactionID,
			"risk_level":     amlResult.RiskLevel.String(),
			"flags":          flags,
		})
		if p.metrics != nil {
			p.metrics.RecordRouting("compliance_review", string(transaction.Type))
		}

		return &ProcessingResult{
			TransactionID:    transaction.TransactionID,
			Status:           models.StatusComplianceReview,
			RiskLevel:        amlResult.RiskLevel.String(),
			ComplianceFlags:  flags,
			RequiredActions:  amlResult.RequiredActions,
			NetworkFee:       networkFee,
			ExchangeRate:     exchangeRate,
			ProcessingTimeMs: time.Since(start).Milliseconds(),
		}
	}

	p.executionQueue.put(item)
	p.updateQueueMetrics()
	p.emit(events.EventProcessing, transaction, map[string]interface{}{
		"network_fee":   networkFee.String(),
		"exchange_rate": exchangeRate.String(),
	})
	p.audit.Record(ctx, "transaction_routed_execution", audit.SeverityLow, map[string]interface{}{
		"transaction_id": transaction.TransactionID,
		"amount":         transaction.Amount.String(),
	})
	if p.metrics != nil {
		p.metrics.RecordRouting("execution", string(transaction.Type))
	}

	eta := time.Now().Add(p.settlementBudget(transaction.Amount))
	return &ProcessingResult{
		TransactionID:       transaction.TransactionID,
		Status:              models.StatusProcessing,
		ApprovalCode:        fmt.Sprintf("APP-%s", uuid.New().String()[:8]),
		RiskLevel:           amlResult.RiskLevel.String(),
		ComplianceFlags:     flags,
		NetworkFee:          networkFee,
		ExchangeRate:        exchangeRate,
		EstimatedCompletion: &eta,
		ProcessingTimeMs:    time.Since(start).Milliseconds(),
	}
}

// reviewLevel is the level the compliance-review drain decides on. A
// sanctions hold must never auto-approve, so holds force CRITICAL.
func reviewLevel(amlResult *models.AMLResult, monitoring *models.MonitoringResult) models.RiskLevel {
	level := amlResult.RiskLevel
	if len(monitoring.Holds) > 0 {
		level = level.Max(models.RiskCritical)
	}
	return level
}

func (p *Processor) dailyLimitExceeded(ctx context.Context, transaction *models.Transaction, user *models.User) (bool, error) {
	limit := p.defaultDailyLimit
	if user.DailyLimit.GreaterThan(decimal.Zero) {
		limit = user.DailyLimit
	}

	now := transaction.CreatedAt
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	volume, err := p.gateway.GetDailyVolume(ctx, transaction.UserID, midnight)
	if err != nil {
		return false, err
	}

	pending := p.reviewQueue.pendingAmount(transaction.UserID).
		Add(p.executionQueue.pendingAmount(transaction.UserID))

	return volume.Add(pending).Add(transaction.Amount).GreaterThan(limit), nil
}

func (p *Processor) fileReports(ctx context.Context, transaction *models.Transaction, user *models.User, amlResult *models.AMLResult, monitorResult *models.MonitoringResult) {
	if monitorResult.RequiresReport(models.ReportCTRFiling) {
		ctr := p.reporter.GenerateCTR(transaction, user)
		if err := p.publisher.PublishComplianceReport(ctx, "ctr", ctr); err != nil {
			p.log.WithError(err).WithField("report_id", ctr.ReportID).Warn("Failed to hand off CTR filing")
		}
	}

	if monitorResult.RequiresReport(models.ReportSARFiling) {
		sar := p.reporter.GenerateSAR(transaction, suspicionCategory(transaction), amlResult.Flags)
		if err := p.publisher.PublishComplianceReport(ctx, "sar", sar); err != nil {
			p.log.WithError(err).WithField("report_id", sar.ReportID).Warn("Failed to hand off SAR filing")
		}
	}

	if monitorResult.RequiresReport(models.ReportOFACBlocking) {
		report := map[string]interface{}{
			"transaction_id": transaction.TransactionID,
			"user_id":        transaction.UserID,
			"amount":         transaction.Amount.String(),
			"currency":       transaction.Currency,
			"generated_at":   time.Now(),
		}
		if err := p.publisher.PublishComplianceReport(ctx, "ofac_blocking", report); err != nil {
			p.log.WithError(err).Warn("Failed to hand off OFAC blocking report")
		}
	}
}

func suspicionCategory(transaction *models.Transaction) string {
	if transaction.Type == models.TypeExchange {
		return compliance.ActivityMoneyLaundering
	}
	if transaction.Amount.Equal(decimal.NewFromInt(9999)) {
		return compliance.ActivityStructuring
	}
	return compliance.ActivityUnusualPattern
}

// DrainComplianceQueue decides every item that has dwelled long enough.
// Approved items move to the execution queue; the rest get a terminal
// REJECTED record. Exported so operators and tests can force a pass.
func (p *Processor) DrainComplianceQueue(ctx context.Context) {
	start := time.Now()
	for _, queued := range p.reviewQueue.snapshot() {
		if time.Since(queued.EnqueuedAt) < p.cfg.ReviewDwell {
			continue
		}
		item, ok := p.reviewQueue.remove(queued.Transaction.TransactionID)
		if !ok {
			continue
		}
		p.resolveReview(ctx, item)
	}
	p.updateQueueMetrics()
	if p.metrics != nil {
		p.metrics.ObserveDrain("compliance", time.Since(start))
	}
}

func (p *Processor) resolveReview(ctx context.Context, item *queueItem) {
	transaction := item.Transaction
	defer func() {
		if r := recover(); r != nil {
			p.log.WithFields(logrus.Fields{
				"transaction_id": transaction.TransactionID,
				"panic":          r,
			}).Error("Panic during compliance review resolution")
		}
	}()

	if item.ReviewLevel != models.RiskCritical {
		item.EnqueuedAt = time.Now()
		p.executionQueue.put(item)
		p.emit(events.EventApproved, transaction, map[string]interface{}{
			"risk_level": item.ReviewLevel.String(),
		})
		p.audit.Record(ctx, "compliance_review_approved", audit.SeverityMedium, map[string]interface{}{
			"transaction_id": transaction.TransactionID,
			"risk_level":     item.ReviewLevel.String(),
		})
		return
	}

	flags := append([]string{}, item.Assessment.Flags...)
	flags = append(flags, item.Monitoring.Holds...)
	record := transaction.NewRecord(models.StatusRejected, item.NetworkFee, item.ExchangeRate, flags, "", ReasonComplianceReject)
	if err := p.gateway.PersistTransactionRecord(ctx, record); err != nil {
		p.log.WithError(err).WithField("transaction_id", transaction.TransactionID).Error("Failed to persist rejection record")
	}

	p.emit(events.EventRejected, transaction, map[string]interface{}{
		"risk_level": item.ReviewLevel.String(),
		"flags":      flags,
	})

	severity := audit.SeverityHigh
	if len(item.Monitoring.Holds) > 0 {
		severity = audit.SeverityCritical
	}
	p.audit.Record(ctx, "compliance_review_rejected", severity, map[string]interface{}{
		"transaction_id":   transaction.TransactionID,
		"risk_level":       item.ReviewLevel.String(),
		"flags":            flags,
		"required_actions": item.Assessment.RequiredActions,
	})
	if p.metrics != nil {
		p.metrics.RecordOutcome(string(models.StatusRejected), string(transaction.Type))
	}
}

// DrainExecutionQueue settles every item whose age has reached its
// amount-scaled processing budget.
func (p *Processor) DrainExecutionQueue(ctx context.Context) {
	start := time.Now()
	for _, queued := range p.executionQueue.snapshot() {
		if time.Since(queued.EnqueuedAt) < p.settlementBudget(queued.Transaction.Amount) {
			continue
		}
		item, ok := p.executionQueue.remove(queued.Transaction.TransactionID)
		if !ok {
			continue
		}
		p.executeItem(ctx, item)
	}
	p.updateQueueMetrics()
	if p.metrics != nil {
		p.metrics.ObserveDrain("execution", time.Since(start))
	}
}

func (p *Processor) executeItem(ctx context.Context, item *queueItem) {
	transaction := item.Transaction
	defer func() {
		if r := recover(); r != nil {
			p.log.WithFields(logrus.Fields{
				"transaction_id": transaction.TransactionID,
				"panic":          r,
			}).Error("Panic during execution")
			p.finalizeFailed(ctx, item, ReasonInternalError)
		}
	}()

	result, err := p.network.Execute(ctx, transaction)
	if err != nil {
		result = &external.ExecutionResult{
			Success:   false,
			Reason:    err.Error(),
			Retryable: true,
		}
	}

	if !result.Success {
		if result.Retryable && item.Attempts < p.cfg.MaxExecutionRetries {
			item.Attempts++
			item.EnqueuedAt = time.Now()
			p.executionQueue.put(item)
			p.log.WithFields(logrus.Fields{
				"transaction_id": transaction.TransactionID,
				"attempt":        item.Attempts,
				"reason":         result.Reason,
			}).Warn("Execution failed, retrying")
			return
		}
		p.finalizeFailed(ctx, item, result.Reason)
		return
	}

	if transaction.IsOutgoing() {
		balance, err := p.gateway.GetBalance(ctx, transaction.UserID, transaction.Currency)
		if err != nil {
			p.finalizeFailed(ctx, item, fmt.Sprintf("balance read failed: %v", err))
			return
		}
		newBalance := balance.Sub(transaction.Amount).Sub(item.NetworkFee)
		if newBalance.IsNegative() {
			p.finalizeFailed(ctx, item, ReasonInsufficientFunds)
			return
		}
		if err := p.gateway.SetBalance(ctx, transaction.UserID, transaction.Currency, newBalance); err != nil {
			p.finalizeFailed(ctx, item, fmt.Sprintf("balance write failed: %v", err))
			return
		}
	}

	record := transaction.NewRecord(models.StatusCompleted, item.NetworkFee, item.ExchangeRate, item.Assessment.Flags, result.Reference, "")
	if err := p.gateway.PersistTransactionRecord(ctx, record); err != nil {
		p.log.WithError(err).WithField("transaction_id", transaction.TransactionID).Error("Failed to persist completion record")
	}

	p.emit(events.EventCompleted, transaction, map[string]interface{}{
		"reference":   result.Reference,
		"network_fee": item.NetworkFee.String(),
	})
	p.audit.Record(ctx, "transaction_completed", audit.SeverityLow, map[string]interface{}{
		"transaction_id": transaction.TransactionID,
		"reference":      result.Reference,
	})

	p.recordCompletion(transaction.CreatedAt)
	if p.metrics != nil {
		p.metrics.RecordOutcome(string(models.StatusCompleted), string(transaction.Type))
		p.metrics.ObserveSettlement(time.Since(transaction.CreatedAt))
	}
}

func (p *Processor) finalizeFailed(ctx context.Context, item *queueItem, reason string) {
	transaction := item.Transaction

	record := transaction.NewRecord(models.StatusFailed, item.NetworkFee, item.ExchangeRate, item.Assessment.Flags, "", reason)
	if err := p.gateway.PersistTransactionRecord(ctx, record); err != nil {
		p.log.WithError(err).WithField("transaction_id", transaction.TransactionID).Error("Failed to persist failure record")
	}

	p.emit(events.EventFailed, transaction, map[string]interface{}{
		"reason": reason,
	})
	p.audit.Record(ctx, "transaction_failed", audit.SeverityMedium, map[string]interface{}{
		"transaction_id": transaction.TransactionID,
		"reason":         reason,
	})
	if p.metrics != nil {
		p.metrics.RecordOutcome(string(models.StatusFailed), string(transaction.Type))
	}
}

// Cancel removes a still-queued transaction and records CANCELLED. It
// returns false if the transaction already left both queues.
func (p *Processor) Cancel(ctx context.Context, transactionID string) (bool, error) {
	item, ok := p.reviewQueue.remove(transactionID)
	if !ok {
		item, ok = p.executionQueue.remove(transactionID)
	}
	if !ok {
		return false, nil
	}
	p.updateQueueMetrics()

	transaction := item.Transaction
	record := transaction.NewRecord(models.StatusCancelled, item.NetworkFee, item.ExchangeRate, item.Assessment.Flags, "", "cancelled by caller")
	if err := p.gateway.PersistTransactionRecord(ctx, record); err != nil {
		return true, fmt.Errorf("cancelled but failed to persist record: %w", err)
	}

	p.emit(events.EventCancelled, transaction, nil)
	p.audit.Record(ctx, "transaction_cancelled", audit.SeverityMedium, map[string]interface{}{
		"transaction_id": transactionID,
	})
	if p.metrics != nil {
		p.metrics.RecordOutcome(string(models.StatusCancelled), string(transaction.Type))
	}

	return true, nil
}

// GetStatus reports where a transaction currently is: still queued, or
// finished with a persisted terminal record.
func (p *Processor) GetStatus(ctx context.Context, transactionID string) (*StatusView, error) {
	if p.reviewQueue.contains(transactionID) {
		return &StatusView{TransactionID: transactionID, Status: models.StatusComplianceReview}, nil
	}
	if p.executionQueue.contains(transactionID) {
		return &StatusView{TransactionID: transactionID, Status: models.StatusProcessing}, nil
	}

	record, err := p.gateway.GetTransactionRecord(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	return &StatusView{
		TransactionID: transactionID,
		Status:        record.Status,
		Record:        record,
	}, nil
}

// GetProcessingStats returns a point-in-time pipeline snapshot.
func (p *Processor) GetProcessingStats() *ProcessingStats {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()

	window := p.cfg.ThroughputWindow
	if window == 0 {
		window = time.Minute
	}
	cutoff := time.Now().Add(-window)

	recent := p.completions[:0]
	for _, t := range p.completions {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}
	p.completions = recent

	var avgMs float64
	if len(p.durations) > 0 {
		var total time.Duration
		for _, d := range p.durations {
			total += d
		}
		avgMs = float64(total.Milliseconds()) / float64(len(p.durations))
	}

	return &ProcessingStats{
		QueueLength:             p.executionQueue.len(),
		ComplianceQueueLength:   p.reviewQueue.len(),
		AverageProcessingTimeMs: avgMs,
		ThroughputPerMinute:     float64(len(recent)) * float64(time.Minute) / float64(window),
	}
}

func (p *Processor) recordCompletion(submittedAt time.Time) {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	p.completions = append(p.completions, time.Now())
	p.durations = append(p.durations, time.Since(submittedAt))
	if len(p.durations) > 1000 {
		p.durations = p.durations[len(p.durations)-1000:]
	}
}

func (p *Processor) settlementBudget(amount decimal.Decimal) time.Duration {
	switch {
	case amount.GreaterThanOrEqual(decimal.NewFromInt(50000)):
		return p.cfg.HighValueSettleDelay
	case amount.GreaterThanOrEqual(decimal.NewFromInt(10000)):
		return p.cfg.LargeSettleDelay
	default:
		return p.cfg.StandardSettleDelay
	}
}

func (p *Processor) rejectResult(ctx context.Context, transaction *models.Transaction, reason string, flags []string, severity audit.Severity, start time.Time) *ProcessingResult {
	record := transaction.NewRecord(models.StatusRejected, decimal.Zero, decimal.NewFromInt(1), flags, "", reason)
	if err := p.gateway.PersistTransactionRecord(ctx, record); err != nil {
		p.log.WithError(err).WithField("transaction_id", transaction.TransactionID).Warn("Failed to persist rejection record")
	}

	p.audit.Record(ctx, "transaction_rejected", severity, map[string]interface{}{
		"transaction_id": transaction.TransactionID,
		"reason":         reason,
	})
	p.emit(events.EventRejected, transaction, map[string]interface{}{
		"reason": reason,
	})
	if p.metrics != nil {
		p.metrics.RecordOutcome(string(models.StatusRejected), string(transaction.Type))
	}

	return &ProcessingResult{
		TransactionID:    transaction.TransactionID,
		Status:           models.StatusRejected,
		RejectionReason:  reason,
		ComplianceFlags:  flags,
		ProcessingTimeMs: time.Since(start).Milliseconds(),
	}
}

func (p *Processor) failResult(transaction *models.Transaction, reason string, start time.Time) *ProcessingResult {
	return &ProcessingResult{
		TransactionID:    transaction.TransactionID,
		Status:           models.StatusFailed,
		RejectionReason:  reason,
		ComplianceFlags:  []string{},
		ProcessingTimeMs: time.Since(start).Milliseconds(),
	}
}

func (p *Processor) emit(name string, transaction *models.Transaction, payload map[string]interface{}) {
	p.bus.Emit(events.Event{
		Name:          name,
		TransactionID: transaction.TransactionID,
		UserID:        transaction.UserID,
		Payload:       payload,
	})
}

func (p *Processor) updateQueueMetrics() {
	if p.metrics != nil {
		p.metrics.SetQueueDepth("execution", p.executionQueue.len())
		p.metrics.SetQueueDepth("compliance_review", p.reviewQueue.len())
	}
}
