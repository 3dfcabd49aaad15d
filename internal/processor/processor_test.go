package processor

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"processing-api/internal/audit"
	"processing-api/internal/compliance"
	"processing-api/internal/config"
	"processing-api/internal/events"
	"processing-api/internal/external"
	"processing-api/internal/ledger"
	"processing-api/internal/models"
)

type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) GetBalance(ctx context.Context, userID int64, currency string) (decimal.Decimal, error) {
	args := m.Called(ctx, userID, currency)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func (m *MockGateway) SetBalance(ctx context.Context, userID int64, currency string, amount decimal.Decimal) error {
	args := m.Called(ctx, userID, currency, amount)
	return args.Error(0)
}

func (m *MockGateway) GetUser(ctx context.Context, userID int64) (*models.User, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockGateway) GetRecentTransactions(ctx context.Context, userID int64, limit int64) ([]*models.TransactionRecord, error) {
	args := m.Called(ctx, userID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.TransactionRecord), args.Error(1)
}

func (m *MockGateway) GetDailyVolume(ctx context.Context, userID int64, since time.Time) (decimal.Decimal, error) {
	args := m.Called(ctx, userID, since)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func (m *MockGateway) GetTransactionRecord(ctx context.Context, transactionID string) (*models.TransactionRecord, error) {
	args := m.Called(ctx, transactionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.TransactionRecord), args.Error(1)
}

func (m *MockGateway) PersistTransactionRecord(ctx context.Context, record *models.TransactionRecord) error {
	args := m.Called(ctx, record)
	return args.Error(0)
}

// scriptedNetwork returns canned execution results in order, repeating the
// last one once the script runs out.
type scriptedNetwork struct {
	mu      sync.Mutex
	results []*external.ExecutionResult
	calls   int
}

func (n *scriptedNetwork) Execute(ctx context.Context, transaction *models.Transaction) (*external.ExecutionResult, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	idx := n.calls
	if idx >= len(n.results) {
		idx = len(n.results) - 1
	}
	n.calls++
	return n.results[idx], nil
}

// memoryIdempotencyStore is an in-process stand-in for the Redis store.
type memoryIdempotencyStore struct {
	mu      sync.Mutex
	results map[string]*ProcessingResult
}

func (s *memoryIdempotencyStore) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cached, ok := s.results[key]
	if !ok {
		return false, nil
	}
	*dest.(*ProcessingResult) = *cached
	return true, nil
}

func (s *memoryIdempotencyStore) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := *value.(*ProcessingResult)
	s.results[key] = &result
	return nil
}

func testProcessorConfig() config.ProcessorConfig {
	// Zero dwell and settle delays so drain passes act immediately.
	return config.ProcessorConfig{
		DailyLimit:          50000,
		ComplianceDrainSpec: "*/5 * * * * *",
		ExecutionDrainSpec:  "*/2 * * * * *",
		MaxExecutionRetries: 2,
		RecentHistoryLimit:  50,
		ThroughputWindow:    time.Minute,
	}
}

func quietAudit() *audit.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return audit.NewLogger(log)
}

func newTestProcessor(gateway ledger.Gateway, sanctions external.SanctionsScreen, network external.PaymentNetwork) *Processor {
	if sanctions == nil {
		sanctions = external.NewNoHitSanctionsScreen()
	}
	if network == nil {
		network = external.NewAlwaysSucceedNetwork()
	}

	cfg := config.ComplianceConfig{
		HighValueThreshold:   10000,
		VelocityThreshold:    5,
		VelocityWindow:       time.Hour,
		RoundAmountMinimum:   5000,
		StructuringAmount:    9999,
		ExchangeSARThreshold: 5000,
		RestrictedCountries:  []string{"KP", "IR", "SY", "CU"},
	}

	auditLog := quietAudit()
	engine := compliance.NewEngine(cfg, sanctions, auditLog)
	reporter := compliance.NewReporter(decimal.NewFromFloat(cfg.HighValueThreshold))

	return NewProcessor(
		testProcessorConfig(),
		gateway,
		engine,
		reporter,
		events.NewBus(),
		network,
		external.NewStaticRateProvider(),
		external.NopPublisher{},
		auditLog,
	)
}

func activeUser(userID int64) *models.User {
	return &models.User{
		UserID:           userID,
		Name:             "Test User",
		Country:          "US",
		Status:           "active",
		IdentityVerified: true,
		DocumentVerified: true,
		AddressVerified:  true,
		DataConsent:      true,
		ConsentUpdatedAt: time.Now(),
	}
}

func submitRequest(userID int64, amount float64, currency string) *SubmitRequest {
	return &SubmitRequest{
		UserID:             userID,
		Type:               "transfer",
		Amount:             decimal.NewFromFloat(amount),
		Currency:           currency,
		SourceCountry:      "US",
		DestinationCountry: "US",
		Purpose:            "invoice payment",
	}
}

func TestProcessor_ProcessTransaction_PreValidationRejections(t *testing.T) {
	tests := []struct {
		name       string
		request    *SubmitRequest
		setupMocks func(*MockGateway)
		wantReason string
	}{
		{
			name: "invalid type fails pre-validation",
			request: &SubmitRequest{
				UserID:             7,
				Type:               "loan",
				Amount:             decimal.NewFromInt(100),
				Currency:           "USD",
				SourceCountry:      "US",
				DestinationCountry: "US",
				Purpose:            "whatever",
			},
			setupMocks: func(g *MockGateway) {
				g.On("PersistTransactionRecord", mock.Anything, mock.Anything).Return(nil)
			},
			wantReason: ReasonValidationFailed,
		},
		{
			name:    "unknown user",
			request: submitRequest(7, 100, "USD"),
			setupMocks: func(g *MockGateway) {
				g.On("GetUser", mock.Anything, int64(7)).Return(nil, ledger.ErrUserNotFound)
				g.On("PersistTransactionRecord", mock.Anything, mock.Anything).Return(nil)
			},
			wantReason: ReasonUserNotFound,
		},
		{
			name:    "suspended account",
			request: submitRequest(7, 100, "USD"),
			setupMocks: func(g *MockGateway) {
				suspended := activeUser(7)
				suspended.Status = "suspended"
				g.On("GetUser", mock.Anything, int64(7)).Return(suspended, nil)
				g.On("PersistTransactionRecord", mock.Anything, mock.Anything).Return(nil)
			},
			wantReason: ReasonAccountSuspended,
		},
		{
			name:    "insufficient funds",
			request: submitRequest(7, 500, "USD"),
			setupMocks: func(g *MockGateway) {
				g.On("GetUser", mock.Anything, int64(7)).Return(activeUser(7), nil)
				g.On("GetBalance", mock.Anything, int64(7), "USD").Return(decimal.NewFromInt(100), nil)
				g.On("PersistTransactionRecord", mock.Anything, mock.Anything).Return(nil)
			},
			wantReason: ReasonInsufficientFunds,
		},
		{
			name:    "daily limit exceeded",
			request: submitRequest(7, 200, "USD"),
			setupMocks: func(g *MockGateway) {
				g.On("GetUser", mock.Anything, int64(7)).Return(activeUser(7), nil)
				g.On("GetBalance", mock.Anything, int64(7), "USD").Return(decimal.NewFromInt(100000), nil)
				g.On("GetDailyVolume", mock.Anything, int64(7), mock.Anything).Return(decimal.NewFromInt(49900), nil)
				g.On("PersistTransactionRecord", mock.Anything, mock.Anything).Return(nil)
			},
			wantReason: ReasonDailyLimit,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gateway := &MockGateway{}
			tt.setupMocks(gateway)
			proc := newTestProcessor(gateway, nil, nil)

			result := proc.ProcessTransaction(context.Background(), tt.request, "")

			assert.Equal(t, models.StatusRejected, result.Status)
			assert.Equal(t, tt.wantReason, result.RejectionReason)
			assert.Empty(t, result.ApprovalCode)

			stats := proc.GetProcessingStats()
			assert.Zero(t, stats.QueueLength)
			assert.Zero(t, stats.ComplianceQueueLength)
		})
	}
}

func TestProcessor_ProcessTransaction_CleanTransferSettles(t *testing.T) {
	gateway := &MockGateway{}
	var persisted []*models.TransactionRecord
	var written []decimal.Decimal

	gateway.On("GetUser", mock.Anything, int64(7)).Return(activeUser(7), nil)
	gateway.On("GetBalance", mock.Anything, int64(7), "GBP").Return(decimal.NewFromInt(1000), nil)
	gateway.On("GetDailyVolume", mock.Anything, int64(7), mock.Anything).Return(decimal.Zero, nil)
	gateway.On("GetRecentTransactions", mock.Anything, int64(7), int64(50)).Return([]*models.TransactionRecord{}, nil)
	gateway.On("SetBalance", mock.Anything, int64(7), "GBP", mock.Anything).
		Run(func(args mock.Arguments) {
			written = append(written, args.Get(3).(decimal.Decimal))
		}).Return(nil)
	gateway.On("PersistTransactionRecord", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			persisted = append(persisted, args.Get(1).(*models.TransactionRecord))
		}).Return(nil)

	proc := newTestProcessor(gateway, nil, nil)

	result := proc.ProcessTransaction(context.Background(), submitRequest(7, 500, "GBP"), "")

	require.Equal(t, models.StatusProcessing, result.Status)
	assert.NotEmpty(t, result.ApprovalCode)
	assert.NotNil(t, result.EstimatedCompletion)
	// 500 GBP domestic: only the non-USD component applies, 0.2% of 500 is
	// below the absolute minimum so the minimum fee wins.
	assert.True(t, decimal.NewFromInt(5).Equal(result.NetworkFee), "fee was %s", result.NetworkFee)
	assert.True(t, decimal.NewFromFloat(1.27).Equal(result.ExchangeRate))

	view, err := proc.GetStatus(context.Background(), result.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, view.Status)

	proc.DrainExecutionQueue(context.Background())

	require.Len(t, persisted, 1)
	assert.Equal(t, models.StatusCompleted, persisted[0].Status)
	assert.NotEmpty(t, persisted[0].Reference)

	// Balance conservation: 1000 - 500 - 5.
	require.Len(t, written, 1)
	assert.True(t, decimal.NewFromInt(495).Equal(written[0]), "balance was %s", written[0])

	stats := proc.GetProcessingStats()
	assert.Zero(t, stats.QueueLength)
	assert.Equal(t, float64(1), stats.ThroughputPerMinute)
}

func TestProcessor_HighValueRoutesToReviewThenSettles(t *testing.T) {
	gateway := &MockGateway{}
	var persisted []*models.TransactionRecord

	gateway.On("GetUser", mock.Anything, int64(7)).Return(activeUser(7), nil)
	gateway.On("GetBalance", mock.Anything, int64(7), "USD").Return(decimal.NewFromInt(100000), nil)
	gateway.On("GetDailyVolume", mock.Anything, int64(7), mock.Anything).Return(decimal.Zero, nil)
	gateway.On("GetRecentTransactions", mock.Anything, int64(7), int64(50)).Return([]*models.TransactionRecord{}, nil)
	gateway.On("SetBalance", mock.Anything, int64(7), "USD", mock.Anything).Return(nil)
	gateway.On("PersistTransactionRecord", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			persisted = append(persisted, args.Get(1).(*models.TransactionRecord))
		}).Return(nil)

	proc := newTestProcessor(gateway, nil, nil)

	// High value and suspicious-velocity cases are HIGH risk: held for review,
	// then approved because the level is below CRITICAL.
	result := proc.ProcessTransaction(context.Background(), submitRequest(7, 15500, "USD"), "")

	require.Equal(t, models.StatusComplianceReview, result.Status)
	assert.Contains(t, result.ComplianceFlags, models.FlagHighValue)
	assert.Equal(t, "HIGH", result.RiskLevel)
	assert.Empty(t, result.ApprovalCode)

	stats := proc.GetProcessingStats()
	assert.Equal(t, 1, stats.ComplianceQueueLength)

	proc.DrainComplianceQueue(context.Background())

	stats = proc.GetProcessingStats()
	assert.Zero(t, stats.ComplianceQueueLength)
	assert.Equal(t, 1, stats.QueueLength)

	proc.DrainExecutionQueue(context.Background())

	require.Len(t, persisted, 1)
	assert.Equal(t, models.StatusCompleted, persisted[0].Status)
}

func TestProcessor_RestrictedCountryIsRejectedOnReview(t *testing.T) {
	gateway := &MockGateway{}
	var persisted []*models.TransactionRecord

	gateway.On("GetUser", mock.Anything, int64(7)).Return(activeUser(7), nil)
	gateway.On("GetBalance", mock.Anything, int64(7), "USD").Return(decimal.NewFromInt(10000), nil)
	gateway.On("GetDailyVolume", mock.Anything, int64(7), mock.Anything).Return(decimal.Zero, nil)
	gateway.On("GetRecentTransactions", mock.Anything, int64(7), int64(50)).Return([]*models.TransactionRecord{}, nil)
	gateway.On("PersistTransactionRecord", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			persisted = append(persisted, args.Get(1).(*models.TransactionRecord))
		}).Return(nil)

	proc := newTestProcessor(gateway, nil, nil)

	req := submitRequest(7, 100, "USD")
	req.DestinationCountry = "KP"
	result := proc.ProcessTransaction(context.Background(), req, "")

	require.Equal(t, models.StatusComplianceReview, result.Status)
	assert.Equal(t, "CRITICAL", result.RiskLevel)
	assert.Contains(t, result.ComplianceFlags, models.FlagRestrictedCountry)

	proc.DrainComplianceQueue(context.Background())

	require.Len(t, persisted, 1)
	assert.Equal(t, models.StatusRejected, persisted[0].Status)
	assert.Equal(t, ReasonComplianceReject, persisted[0].FailureReason)

	stats := proc.GetProcessingStats()
	assert.Zero(t, stats.ComplianceQueueLength)
	assert.Zero(t, stats.QueueLength)
}

func TestProcessor_SanctionsHoldForcesRejection(t *testing.T) {
	gateway := &MockGateway{}
	var persisted []*models.TransactionRecord

	gateway.On("GetUser", mock.Anything, int64(7)).Return(activeUser(7), nil)
	gateway.On("GetBalance", mock.Anything, int64(7), "USD").Return(decimal.NewFromInt(10000), nil)
	gateway.On("GetDailyVolume", mock.Anything, int64(7), mock.Anything).Return(decimal.Zero, nil)
	gateway.On("GetRecentTransactions", mock.Anything, int64(7), int64(50)).Return([]*models.TransactionRecord{}, nil)
	gateway.On("PersistTransactionRecord", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			persisted = append(persisted, args.Get(1).(*models.TransactionRecord))
		}).Return(nil)

	sanctions := &external.StaticSanctionsScreen{
		ListName:     "SDN",
		FlaggedUsers: map[int64]bool{7: true},
	}
	proc := newTestProcessor(gateway, sanctions, nil)

	// A small clean-looking transfer: AML risk is LOW, but the sanctions hold
	// must still block auto-approval on review.
	result := proc.ProcessTransaction(context.Background(), submitRequest(7, 100, "USD"), "")

	require.Equal(t, models.StatusComplianceReview, result.Status)
	assert.Contains(t, result.ComplianceFlags, models.HoldOFACSanctions)

	proc.DrainComplianceQueue(context.Background())

	require.Len(t, persisted, 1)
	assert.Equal(t, models.StatusRejected, persisted[0].Status)
	assert.Contains(t, persisted[0].Flags, models.HoldOFACSanctions)
}

func TestProcessor_ExecutionRetriesThenSucceeds(t *testing.T) {
	gateway := &MockGateway{}
	var persisted []*models.TransactionRecord

	gateway.On("GetUser", mock.Anything, int64(7)).Return(activeUser(7), nil)
	gateway.On("GetBalance", mock.Anything, int64(7), "USD").Return(decimal.NewFromInt(1000), nil)
	gateway.On("GetDailyVolume", mock.Anything, int64(7), mock.Anything).Return(decimal.Zero, nil)
	gateway.On("GetRecentTransactions", mock.Anything, int64(7), int64(50)).Return([]*models.TransactionRecord{}, nil)
	gateway.On("SetBalance", mock.Anything, int64(7), "USD", mock.Anything).Return(nil)
	gateway.On("PersistTransactionRecord", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			persisted = append(persisted, args.Get(1).(*models.TransactionRecord))
		}).Return(nil)

	network := &scriptedNetwork{results: []*external.ExecutionResult{
		{Success: false, Reason: external.ReasonNetworkFailure, Retryable: true},
		{Success: true, Reference: "NET-retry-ok"},
	}}
	proc := newTestProcessor(gateway, nil, network)

	result := proc.ProcessTransaction(context.Background(), submitRequest(7, 100, "USD"), "")
	require.Equal(t, models.StatusProcessing, result.Status)

	proc.DrainExecutionQueue(context.Background())
	// First pass re-enqueued the item, nothing terminal yet.
	assert.Empty(t, persisted)
	assert.Equal(t, 1, proc.GetProcessingStats().QueueLength)

	proc.DrainExecutionQueue(context.Background())

	require.Len(t, persisted, 1)
	assert.Equal(t, models.StatusCompleted, persisted[0].Status)
	assert.Equal(t, "NET-retry-ok", persisted[0].Reference)
}

func TestProcessor_TerminalNetworkFailure(t *testing.T) {
	gateway := &MockGateway{}
	var persisted []*models.TransactionRecord

	gateway.On("GetUser", mock.Anything, int64(7)).Return(activeUser(7), nil)
	gateway.On("GetBalance", mock.Anything, int64(7), "USD").Return(decimal.NewFromInt(1000), nil)
	gateway.On("GetDailyVolume", mock.Anything, int64(7), mock.Anything).Return(decimal.Zero, nil)
	gateway.On("GetRecentTransactions", mock.Anything, int64(7), int64(50)).Return([]*models.TransactionRecord{}, nil)
	gateway.On("PersistTransactionRecord", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			persisted = append(persisted, args.Get(1).(*models.TransactionRecord))
		}).Return(nil)

	network := &scriptedNetwork{results: []*external.ExecutionResult{
		{Success: false, Reason: external.ReasonDestinationUnavailable, Retryable: false},
	}}
	proc := newTestProcessor(gateway, nil, network)

	result := proc.ProcessTransaction(context.Background(), submitRequest(7, 100, "USD"), "")
	require.Equal(t, models.StatusProcessing, result.Status)

	proc.DrainExecutionQueue(context.Background())

	require.Len(t, persisted, 1)
	assert.Equal(t, models.StatusFailed, persisted[0].Status)
	assert.Equal(t, external.ReasonDestinationUnavailable, persisted[0].FailureReason)
	assert.Zero(t, proc.GetProcessingStats().QueueLength)
}

func TestProcessor_Cancel(t *testing.T) {
	gateway := &MockGateway{}
	var persisted []*models.TransactionRecord

	gateway.On("GetUser", mock.Anything, int64(7)).Return(activeUser(7), nil)
	gateway.On("GetBalance", mock.Anything, int64(7), "USD").Return(decimal.NewFromInt(1000), nil)
	gateway.On("GetDailyVolume", mock.Anything, int64(7), mock.Anything).Return(decimal.Zero, nil)
	gateway.On("GetRecentTransactions", mock.Anything, int64(7), int64(50)).Return([]*models.TransactionRecord{}, nil)
	gateway.On("PersistTransactionRecord", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			persisted = append(persisted, args.Get(1).(*models.TransactionRecord))
		}).Return(nil)

	proc := newTestProcessor(gateway, nil, nil)

	result := proc.ProcessTransaction(context.Background(), submitRequest(7, 100, "USD"), "")
	require.Equal(t, models.StatusProcessing, result.Status)

	cancelled, err := proc.Cancel(context.Background(), result.TransactionID)
	require.NoError(t, err)
	assert.True(t, cancelled)

	require.Len(t, persisted, 1)
	assert.Equal(t, models.StatusCancelled, persisted[0].Status)
	assert.Zero(t, proc.GetProcessingStats().QueueLength)

	// Already gone from both queues.
	cancelled, err = proc.Cancel(context.Background(), result.TransactionID)
	require.NoError(t, err)
	assert.False(t, cancelled)
}

func TestProcessor_IdempotentSubmission(t *testing.T) {
	gateway := &MockGateway{}

	gateway.On("GetUser", mock.Anything, int64(7)).Return(activeUser(7), nil).Once()
	gateway.On("GetBalance", mock.Anything, int64(7), "USD").Return(decimal.NewFromInt(1000), nil).Once()
	gateway.On("GetDailyVolume", mock.Anything, int64(7), mock.Anything).Return(decimal.Zero, nil).Once()
	gateway.On("GetRecentTransactions", mock.Anything, int64(7), int64(50)).Return([]*models.TransactionRecord{}, nil).Once()

	proc := newTestProcessor(gateway, nil, nil)
	proc.SetIdempotencyStore(&memoryIdempotencyStore{results: make(map[string]*ProcessingResult)}, time.Hour)

	first := proc.ProcessTransaction(context.Background(), submitRequest(7, 100, "USD"), "key-1")
	second := proc.ProcessTransaction(context.Background(), submitRequest(7, 100, "USD"), "key-1")

	assert.Equal(t, first.TransactionID, second.TransactionID)
	assert.Equal(t, first.ApprovalCode, second.ApprovalCode)
	// The .Once() expectations prove the second call never re-ran the pipeline.
	gateway.AssertExpectations(t)
}

func TestProcessor_GetStatus_FallsBackToLedger(t *testing.T) {
	gateway := &MockGateway{}
	record := &models.TransactionRecord{
		TransactionID: "TXN-done",
		Status:        models.StatusCompleted,
	}
	gateway.On("GetTransactionRecord", mock.Anything, "TXN-done").Return(record, nil)
	gateway.On("GetTransactionRecord", mock.Anything, "TXN-missing").Return(nil, ledger.ErrRecordNotFound)

	proc := newTestProcessor(gateway, nil, nil)

	view, err := proc.GetStatus(context.Background(), "TXN-done")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, view.Status)
	assert.Equal(t, record, view.Record)

	_, err = proc.GetStatus(context.Background(), "TXN-missing")
	assert.ErrorIs(t, err, ledger.ErrRecordNotFound)
}
