package external

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"processing-api/internal/models"
)

// Failure reasons reported by payment networks. Network failures are
// transient and may be retried; unavailable destinations are terminal.
const (
	ReasonNetworkFailure         = "network failure"
	ReasonDestinationUnavailable = "destination unavailable"
)

// ExecutionResult is the outcome of submitting a transaction to a payment
// network.
type ExecutionResult struct {
	Success   bool   `json:"success"`
	Reference string `json:"reference,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Retryable bool   `json:"retryable"`
}

// PaymentNetwork settles approved transactions with the outside world.
type PaymentNetwork interface {
	Execute(ctx context.Context, transaction *models.Transaction) (*ExecutionResult, error)
}

type SimulatedNetworkConfig struct {
	FailureRate        float64
	UnavailableRate    float64
	MinSettlementDelay time.Duration
	MaxSettlementDelay time.Duration
}

// simulatedPaymentNetwork injects random failures so the pipeline's retry
// and failure paths get exercised without a real network.
type simulatedPaymentNetwork struct {
	config SimulatedNetworkConfig
	mu     sync.Mutex
	rng    *rand.Rand
}

func NewSimulatedPaymentNetwork(config SimulatedNetworkConfig) PaymentNetwork {
	return &simulatedPaymentNetwork{
		config: config,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (n *simulatedPaymentNetwork) Execute(ctx context.Context, transaction *models.Transaction) (*ExecutionResult, error) {
	delay := n.settlementDelay()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	roll := n.roll()
	if roll < n.config.UnavailableRate {
		return &ExecutionResult{
			Success:   false,
			Reason:    ReasonDestinationUnavailable,
			Retryable: false,
		}, nil
	}
	if roll < n.config.UnavailableRate+n.config.FailureRate {
		return &ExecutionResult{
			Success:   false,
			Reason:    ReasonNetworkFailure,
			Retryable: true,
		}, nil
	}

	return &ExecutionResult{
		Success:   true,
		Reference: fmt.Sprintf("NET-%s", uuid.New().String()[:12]),
	}, nil
}

func (n *simulatedPaymentNetwork) roll() float64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.rng.Float64()
}

func (n *simulatedPaymentNetwork) settlementDelay() time.Duration {
	if n.config.MaxSettlementDelay <= n.config.MinSettlementDelay {
		return n.config.MinSettlementDelay
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	spread := n.config.MaxSettlementDelay - n.config.MinSettlementDelay
	return n.config.MinSettlementDelay + time.Duration(n.rng.Int63n(int64(spread)))
}

// alwaysSucceedNetwork settles every transaction immediately. Used in tests
// and local development.
type alwaysSucceedNetwork struct{}

func NewAlwaysSucceedNetwork() PaymentNetwork {
	return &alwaysSucceedNetwork{}
}

func (n *alwaysSucceedNetwork) Execute(ctx context.Context, transaction *models.Transaction) (*ExecutionResult, error) {
	return &ExecutionResult{
		Success:   true,
		Reference: fmt.Sprintf("NET-%s", uuid.New().String()[:12]),
	}, nil
}
