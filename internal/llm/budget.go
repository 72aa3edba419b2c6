package llm

import (
	"fmt"
	"sync"
	"time"
)

// Budget enforces per-product and monthly spend ceilings. Zero ceilings
// disable the respective check.
type Budget struct {
	perProductUSD float64
	monthlyUSD    float64

	mu         sync.Mutex
	perProduct map[string]float64
	month      string
	monthSpent float64
	now        func() time.Time
}

// NewBudget creates a budget gate.
func NewBudget(perProductUSD, monthlyUSD float64) *Budget {
	return &Budget{
		perProductUSD: perProductUSD,
		monthlyUSD:    monthlyUSD,
		perProduct:    make(map[string]float64),
		now:           time.Now,
	}
}

// Allow checks whether a call of the given cost fits both ceilings.
func (b *Budget) Allow(productID string, costUSD float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollMonthLocked()

	if b.monthlyUSD > 0 && b.monthSpent+costUSD > b.monthlyUSD {
		return fmt.Errorf("monthly ceiling %.2f reached: %w", b.monthlyUSD, ErrBudgetExceeded)
	}
	if b.perProductUSD > 0 && productID != "" && b.perProduct[productID]+costUSD > b.perProductUSD {
		return fmt.Errorf("product %s ceiling %.2f reached: %w", productID, b.perProductUSD, ErrBudgetExceeded)
	}
	return nil
}

// Commit records actual spend after a successful call.
func (b *Budget) Commit(productID string, costUSD float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollMonthLocked()

	b.monthSpent += costUSD
	if productID != "" {
		b.perProduct[productID] += costUSD
	}
}

// Spent reports the current month's total spend.
func (b *Budget) Spent() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollMonthLocked()
	return b.monthSpent
}

// rollMonthLocked resets the monthly counter when the calendar month turns.
func (b *Budget) rollMonthLocked() {
	month := b.now().UTC().Format("2006-01")
	if month != b.month {
		b.month = month
		b.monthSpent = 0
	}
}

// SetClock injects a clock for tests.
func (b *Budget) SetClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}
