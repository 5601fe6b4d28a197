package ledger

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBillingCycleClose(t *testing.T) {
	store := newMemStore()
	history := NewHistory(store)
	require.NoError(t, history.Add("2026-08-29", DayTotal{TotalWh: 12000}))
	require.NoError(t, history.Add("2026-08-30", DayTotal{TotalWh: 8000}))

	billing := NewBilling(store)
	require.NoError(t, billing.StartCycle("2026-08-01"))
	require.NoError(t, billing.CloseCycle("2026-09-01", history))

	cycles, start, end := billing.Cycles()
	require.Len(t, cycles, 1)
	require.Equal(t, "2026-08-01", cycles[0].Start)
	require.Equal(t, "2026-09-01", cycles[0].End)
	require.InDelta(t, 20.0, cycles[0].KWh, 1e-9)

	// The next period opens where the closed one ended.
	require.Equal(t, "2026-09-01", start)
	require.Equal(t, "2026-09-01", end)
}

func TestBillingCloseWithoutOpenCycle(t *testing.T) {
	billing := NewBilling(newMemStore())
	require.Error(t, billing.CloseCycle("2026-09-01", NewHistory(newMemStore())))
}

func TestBillingPersistsAcrossLoad(t *testing.T) {
	store := newMemStore()
	history := NewHistory(store)
	require.NoError(t, history.Add("2026-08-30", DayTotal{TotalWh: 5000}))

	billing := NewBilling(store)
	require.NoError(t, billing.StartCycle("2026-08-01"))
	require.NoError(t, billing.CloseCycle("2026-09-01", history))

	restored := NewBilling(store)
	require.NoError(t, restored.Load())
	cycles, start, _ := restored.Cycles()
	require.Len(t, cycles, 1)
	require.Equal(t, "2026-09-01", start)
}
