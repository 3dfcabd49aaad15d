package processor

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"processing-api/internal/models"
)

// queueItem is one in-flight transaction with its attached risk findings.
type queueItem struct {
	Transaction  *models.Transaction
	Assessment   *models.AMLResult
	Monitoring   *models.MonitoringResult
	ReviewLevel  models.RiskLevel
	NetworkFee   decimal.Decimal
	ExchangeRate decimal.Decimal
	EnqueuedAt   time.Time
	Attempts     int
}

// itemQueue is a concurrency-safe in-memory queue keyed by transaction id.
// Submissions insert while the drain loops snapshot and remove, so every
// mutation happens under the lock.
type itemQueue struct {
	mu    sync.Mutex
	items map[string]*queueItem
	order []string
}

func newItemQueue() *itemQueue {
	return &itemQueue{
		items: make(map[string]*queueItem),
	}
}

func (q *itemQueue) put(item *queueItem) {
	q.mu.Lock()
	defer q.mu.Unlock()
	id := item.Transaction.TransactionID
	if _, exists := q.items[id]; !exists {
		q.order = append(q.order, id)
	}
	q.items[id] = item
}

// remove deletes and returns the item, reporting whether it was present.
// A drain pass that loses the race to another remover simply skips the item.
func (q *itemQueue) remove(transactionID string) (*queueItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	item, ok := q.items[transactionID]
	if !ok {
		return nil, false
	}
	delete(q.items, transactionID)
	for i, id := range q.order {
		if id == transactionID {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
	return item, true
}

func (q *itemQueue) contains(transactionID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.items[transactionID]
	return ok
}

// snapshot returns the queued items in insertion order. The slice is a copy;
// items may be removed concurrently after it is taken.
func (q *itemQueue) snapshot() []*queueItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*queueItem, 0, len(q.order))
	for _, id := range q.order {
		if item, ok := q.items[id]; ok {
			out = append(out, item)
		}
	}
	return out
}

func (q *itemQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// pendingAmount sums the queued amounts for one user, used by the daily
// limit pre-check so in-flight submissions count against the limit.
func (q *itemQueue) pendingAmount(userID int64) decimal.Decimal {
	q.mu.Lock()
	defer q.mu.Unlock()
	total := decimal.Zero
	for _, item := range q.items {
		if item.Transaction.UserID == userID {
			total = total.Add(item.Transaction.Amount)
		}
	}
	return total
}
