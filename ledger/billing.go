package ledger

import (
	"fmt"
	"sync"

	"github.com/kradalby/energyguard/platform"
)

const billingDocName = "billing_history.json"

// billingRetention caps stored cycles to roughly two years of monthly bills.
const billingRetention = 24

// Cycle is one closed billing period.
type Cycle struct {
	Start string  `json:"start"`
	End   string  `json:"end"`
	KWh   float64 `json:"kwh"`
}

type billingDocument struct {
	Cycles     []Cycle `json:"cycles"`
	CycleStart string  `json:"cycle_start"`
	CycleEnd   string  `json:"cycle_end"`
}

// Billing tracks billing-cycle boundaries and per-cycle energy, derived from
// the daily history at cycle close.
type Billing struct {
	mu         sync.Mutex
	store      platform.Store
	cycles     []Cycle
	cycleStart string
	cycleEnd   string
}

// NewBilling creates an empty billing tracker.
func NewBilling(store platform.Store) *Billing {
	return &Billing{store: store}
}

// Load restores billing history.
func (b *Billing) Load() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var doc billingDocument
	if err := b.store.Load(billingDocName, &doc); err != nil {
		return err
	}
	b.cycles = doc.Cycles
	b.cycleStart = doc.CycleStart
	b.cycleEnd = doc.CycleEnd
	return nil
}

// StartCycle records the opening date of the current billing period.
func (b *Billing) StartCycle(date string) error {
	b.mu.Lock()
	b.cycleStart = date
	b.cycleEnd = ""
	b.mu.Unlock()
	return b.flush()
}

// CloseCycle closes the current period at endDate, summing archived days in
// [start, endDate] into a cycle entry. The next period opens at endDate.
func (b *Billing) CloseCycle(endDate string, history *History) error {
	b.mu.Lock()
	if b.cycleStart == "" {
		b.mu.Unlock()
		return fmt.Errorf("no open billing cycle")
	}
	start := b.cycleStart

	agg := history.Range(start, endDate)
	b.cycles = append(b.cycles, Cycle{
		Start: start,
		End:   endDate,
		KWh:   agg.TotalWh / 1000,
	})
	if len(b.cycles) > billingRetention {
		b.cycles = b.cycles[len(b.cycles)-billingRetention:]
	}
	b.cycleEnd = endDate
	b.cycleStart = endDate
	b.mu.Unlock()

	return b.flush()
}

// Cycles returns a copy of closed cycles plus the open period boundaries.
func (b *Billing) Cycles() ([]Cycle, string, string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Cycle, len(b.cycles))
	copy(out, b.cycles)
	return out, b.cycleStart, b.cycleEnd
}

func (b *Billing) flush() error {
	b.mu.Lock()
	doc := billingDocument{
		Cycles:     b.cycles,
		CycleStart: b.cycleStart,
		CycleEnd:   b.cycleEnd,
	}
	b.mu.Unlock()

	return b.store.Save(billingDocName, &doc)
}
