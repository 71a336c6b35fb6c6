package agmetrics_test

import (
	"testing"
	"time"

	"github.com/gordian-engine/gagree/ag/agconsensus"
	"github.com/gordian-engine/gagree/ag/agengine"
	"github.com/gordian-engine/gagree/ag/agmetrics"
	"github.com/gordian-engine/gagree/ag/agtable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

var (
	_ agengine.MetricsCollector       = (*agmetrics.Collector)(nil)
	_ agengine.AbsentProposerObserver = (*agmetrics.Collector)(nil)
	_ agconsensus.EquivocationHandler = (*agmetrics.Collector)(nil)
)

func TestCollector(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewPedanticRegistry()
	c := agmetrics.New(reg)

	c.StatementAdded("s", agconsensus.StatementPrepare, agtable.OutcomeAccepted)
	c.StatementAdded("s", agconsensus.StatementPrepare, agtable.OutcomeAccepted)
	c.StatementAdded("s", agconsensus.StatementCommit, agtable.OutcomeDuplicate)

	c.RoundEntered("s", 0, "session start")
	c.RoundEntered("s", 1, "prepare timeout")

	c.OnEquivocation(agconsensus.Equivocation{Kind: agconsensus.StatementPropose})
	c.OnAbsentProposer("s", 2, 0, 1)

	c.Finalized("s", 1, 1500*time.Millisecond)

	require.Equal(t, 2.0, testutil.ToFloat64(c.StatementCounter("Prepare", "Accepted")))
	require.Equal(t, 1.0, testutil.ToFloat64(c.StatementCounter("Commit", "Duplicate")))
	require.Equal(t, 1.0, testutil.ToFloat64(c.CurrentRound("s")))
	require.Equal(t, 1.0, testutil.ToFloat64(c.EquivocationCounter("Propose")))

	n, err := testutil.GatherAndCount(reg, "gagree_table_statements_total")
	require.NoError(t, err)
	require.Equal(t, 2, n)

	n, err = testutil.GatherAndCount(reg, "gagree_engine_rounds_entered_total")
	require.NoError(t, err)
	require.Equal(t, 2, n)

	c.Forget("s")
	n, err = testutil.GatherAndCount(reg, "gagree_engine_current_round")
	require.NoError(t, err)
	require.Zero(t, n)
}
