package metrics

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCountersAndGauges(t *testing.T) {
	m := NewMetrics()

	m.IncrementCounter("orders.printed")
	m.IncrementCounterBy("inventory.rows_upserted", 42)
	m.SetGauge("orders.pending", 7)

	require.EqualValues(t, 1, m.GetCounters()["orders.printed"])
	require.EqualValues(t, 42, m.GetCounters()["inventory.rows_upserted"])
	require.EqualValues(t, 7, m.GetGauges()["orders.pending"])
}

func TestHealthChecks(t *testing.T) {
	m := NewMetrics()

	m.SetHealth("inventory", true)
	m.SetHealth("orders", false)

	checks := m.GetHealthChecks()
	require.True(t, checks["inventory"])
	require.False(t, checks["orders"])

	m.SetHealth("orders", true)
	require.True(t, m.GetHealthChecks()["orders"])
}
