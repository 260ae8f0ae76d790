package store

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-net/mcast-acceptor/types"
)

func sampleResult() *types.RunResult {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r := types.NewRunResult("run-42", start,
		types.Node{ID: "server-1", Role: types.RoleServer},
		types.Node{ID: "client-b", Role: types.RoleClient},
		types.Node{ID: "client-a", Role: types.RoleClient},
	)
	r.Topology = "lab"
	r.SetComparison(&types.ComparisonResult{Client: "client-b", Sent: 10, Received: 10, Passed: true,
		Latency: types.LatencySummary{Count: 10, MeanMs: 2.5, P999Ms: 4}})
	r.SetComparison(&types.ComparisonResult{Client: "client-a", Sent: 10, Received: 9, Lost: 1, LossRate: 0.1,
		FailureReasons: []string{"loss"},
		Discrepancies:  []types.Discrepancy{{Kind: types.DiscrepancyLoss, Seq: 7}}})
	r.RecordError("client-a", types.PhaseStopping, &types.TimeoutError{Node: "client-a", Service: "rx"})
	r.Finalize(start.Add(90 * time.Second))
	return r
}

func TestRows(t *testing.T) {
	run, comparisons, errs, err := Rows(sampleResult())
	require.NoError(t, err)

	assert.Equal(t, "run-42", run.ID)
	assert.Equal(t, "lab", run.Topology)
	assert.Equal(t, "error", run.Status)
	assert.False(t, run.Passed)
	assert.Equal(t, 90*time.Second, run.Duration)

	require.Len(t, comparisons, 2)
	assert.Equal(t, "client-a", comparisons[0].Client, "comparisons are sorted by client")
	assert.Equal(t, 1, comparisons[0].Lost)
	assert.Equal(t, 4.0, comparisons[1].P999LatencyMs)

	var details struct {
		FailureReasons []string            `json:"failure_reasons"`
		Discrepancies  []types.Discrepancy `json:"discrepancies"`
	}
	require.NoError(t, json.Unmarshal(comparisons[0].Details, &details))
	assert.Equal(t, []string{"loss"}, details.FailureReasons)
	assert.Equal(t, uint64(7), details.Discrepancies[0].Seq)

	require.Len(t, errs, 1)
	assert.Equal(t, ErrorRow{RunID: "run-42", Node: "client-a", Phase: "stopping", Kind: "timeout", Message: errs[0].Message}, errs[0])
}

// TestPGXStore runs against a real database when MCAST_ACCEPTOR_TEST_DB is set.
func TestPGXStore(t *testing.T) {
	uri := os.Getenv("MCAST_ACCEPTOR_TEST_DB")
	if uri == "" {
		t.Skip("MCAST_ACCEPTOR_TEST_DB not set")
	}
	ctx := context.Background()

	s, err := New(ctx, uri)
	require.NoError(t, err)
	defer s.Close()

	result := sampleResult()
	require.NoError(t, s.SaveRun(ctx, result))
	require.NoError(t, s.SaveRun(ctx, result), "saving a run twice replaces it")

	runs, err := s.RecentRuns(ctx, 10)
	require.NoError(t, err)
	require.NotEmpty(t, runs)
	assert.Equal(t, "run-42", runs[0].ID)
}
