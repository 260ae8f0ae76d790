package comparator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum-optimism/optimism/op-service/testlog"
	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-net/mcast-acceptor/types"
)

// buildLog renders events as `timestamp,seq,size` lines with latency 5ms for
// receive logs.
func buildLog(seqs []uint64, offset int64) string {
	var b strings.Builder
	for _, s := range seqs {
		fmt.Fprintf(&b, "%d,%d,%d\n", 1000+int64(s)*10+offset, s, 64)
	}
	return b.String()
}

func mustParse(t *testing.T, content string) *ParsedLog {
	t.Helper()
	parsed, err := ParseLog(strings.NewReader(content))
	require.NoError(t, err)
	return parsed
}

func newTestComparator(t *testing.T, policy Policy) *Comparator {
	return New(policy, testlog.Logger(t, log.LevelInfo))
}

func TestCompare_LossDetected(t *testing.T) {
	c := newTestComparator(t, DefaultPolicy())
	tx := mustParse(t, buildLog([]uint64{1, 2, 3, 4, 5}, 0))
	rx := mustParse(t, buildLog([]uint64{1, 2, 4, 5}, 5))

	res := c.Compare("client-1", tx, rx)

	assert.Equal(t, 5, res.Sent)
	assert.Equal(t, 4, res.Received)
	assert.Equal(t, 1, res.Lost)
	assert.Equal(t, 0, res.OutOfOrder)
	assert.False(t, res.Passed)
	assert.InDelta(t, 0.2, res.LossRate, 1e-9)

	var lost []uint64
	for _, d := range res.Discrepancies {
		if d.Kind == types.DiscrepancyLoss {
			lost = append(lost, d.Seq)
		}
	}
	assert.Equal(t, []uint64{3}, lost)
}

func TestCompare_ReorderTolerated(t *testing.T) {
	tx := buildLog([]uint64{1, 2, 3}, 0)
	rx := buildLog([]uint64{2, 1, 3}, 5)

	res := newTestComparator(t, DefaultPolicy()).Compare("client-1", mustParse(t, tx), mustParse(t, rx))
	assert.Equal(t, 0, res.Lost)
	assert.Equal(t, 1, res.OutOfOrder)
	assert.True(t, res.Reordered)
	assert.True(t, res.Passed)

	policy := DefaultPolicy()
	policy.FailOnReorder = true
	res = newTestComparator(t, policy).Compare("client-1", mustParse(t, tx), mustParse(t, rx))
	assert.True(t, res.Reordered)
	assert.False(t, res.Passed)
	require.Len(t, res.FailureReasons, 1)
	assert.Contains(t, res.FailureReasons[0], "out of order")
}

func TestCompare_EmptyReceiveLog(t *testing.T) {
	c := newTestComparator(t, DefaultPolicy())
	res := c.Compare("client-1", mustParse(t, buildLog([]uint64{1, 2, 3}, 0)), mustParse(t, ""))

	assert.Equal(t, 3, res.Sent)
	assert.Equal(t, 3, res.Lost)
	assert.Equal(t, 0, res.Received)
	assert.Equal(t, 1.0, res.LossRate)
	assert.False(t, res.Passed)
}

func TestCompare_EmptyTransmitLog(t *testing.T) {
	c := newTestComparator(t, DefaultPolicy())
	res := c.Compare("client-1", mustParse(t, ""), mustParse(t, ""))

	assert.False(t, res.Passed)
	assert.Equal(t, []string{"transmit log contains no events"}, res.FailureReasons)
}

func TestCompare_LossThreshold(t *testing.T) {
	policy := DefaultPolicy()
	policy.MaxLossRate = 0.25
	c := newTestComparator(t, policy)

	res := c.Compare("client-1",
		mustParse(t, buildLog([]uint64{1, 2, 3, 4}, 0)),
		mustParse(t, buildLog([]uint64{1, 2, 4}, 5)))
	assert.Equal(t, 1, res.Lost)
	assert.True(t, res.Passed, "loss equal to the threshold passes")

	res = c.Compare("client-1",
		mustParse(t, buildLog([]uint64{1, 2, 3, 4}, 0)),
		mustParse(t, buildLog([]uint64{1, 4}, 5)))
	assert.False(t, res.Passed)
}

func TestCompare_SizeMismatch(t *testing.T) {
	tx := "100,1,64\n110,2,64\n"
	rx := "105,1,64\n115,2,32\n"

	res := newTestComparator(t, DefaultPolicy()).Compare("client-1", mustParse(t, tx), mustParse(t, rx))
	assert.Equal(t, 1, res.SizeMismatches)
	assert.False(t, res.Passed)
	assert.Equal(t, types.DiscrepancySizeMismatch, res.Discrepancies[0].Kind)
	assert.Equal(t, uint64(2), res.Discrepancies[0].Seq)

	policy := DefaultPolicy()
	policy.FailOnSizeMismatch = false
	res = newTestComparator(t, policy).Compare("client-1", mustParse(t, tx), mustParse(t, rx))
	assert.True(t, res.Passed)
}

func TestCompare_LatencyStatistics(t *testing.T) {
	// Two-field lines: sequence numbers are implicit.
	tx := "1000,64\n2000,64\n3000,64\n4000,64\n"
	rx := "1010,64\n2020,64\n3030,64\n4040,64\n"

	res := newTestComparator(t, DefaultPolicy()).Compare("client-1", mustParse(t, tx), mustParse(t, rx))
	require.True(t, res.Passed)
	assert.Equal(t, 4, res.Latency.Count)
	assert.InDelta(t, 25.0, res.Latency.MeanMs, 1e-9)
	assert.InDelta(t, 25.0, res.Latency.MedianMs, 1e-9)
	assert.InDelta(t, 49.95, res.Latency.P999Ms, 1e-9)
	assert.Equal(t, 10.0, res.Latency.MinMs)
	assert.Equal(t, 40.0, res.Latency.MaxMs)
}

func TestCompare_P999LatencyLimit(t *testing.T) {
	policy := DefaultPolicy()
	policy.MaxP999Latency = 20 * time.Millisecond
	tx := "1000,64\n2000,64\n3000,64\n4000,64\n"
	rx := "1010,64\n2020,64\n3030,64\n4040,64\n"

	res := newTestComparator(t, policy).Compare("client-1", mustParse(t, tx), mustParse(t, rx))
	assert.False(t, res.Passed)
	assert.Contains(t, res.FailureReasons[0], "p99.9 latency")
}

func TestCompare_ClockSkewIsNotFatal(t *testing.T) {
	tx := "1000,1,64\n2000,2,64\n"
	rx := "990,1,64\n2010,2,64\n"

	res := newTestComparator(t, DefaultPolicy()).Compare("client-1", mustParse(t, tx), mustParse(t, rx))
	assert.True(t, res.Passed)
	assert.Equal(t, 1, res.Latency.Count)
	assert.Equal(t, types.DiscrepancyClockSkew, res.Discrepancies[0].Kind)
}

func TestCompare_DuplicatesAndUnexpected(t *testing.T) {
	tx := buildLog([]uint64{1, 2, 3}, 0)
	rx := buildLog([]uint64{1, 2, 2, 3, 9}, 5)

	res := newTestComparator(t, DefaultPolicy()).Compare("client-1", mustParse(t, tx), mustParse(t, rx))
	assert.Equal(t, 3, res.Received)
	assert.Equal(t, 1, res.Duplicates)
	assert.Equal(t, 1, res.Unexpected)
	assert.Equal(t, 0, res.Lost)
	assert.True(t, res.Passed)
}

func TestCompare_DiscrepanciesCapped(t *testing.T) {
	seqs := make([]uint64, 50)
	for i := range seqs {
		seqs[i] = uint64(i + 1)
	}
	policy := DefaultPolicy()
	policy.MaxDiscrepancies = 10

	res := newTestComparator(t, policy).Compare("client-1", mustParse(t, buildLog(seqs, 0)), mustParse(t, ""))
	assert.Equal(t, 50, res.Lost)
	assert.Len(t, res.Discrepancies, 10)
	assert.Equal(t, 40, res.TruncatedDiscrepancies)
}

func TestCompare_MalformedLinesSkipped(t *testing.T) {
	tx := "1000,1,64\ngarbage\n2000,2,64\n"
	rx := "1005,1,64\n1,2\n2005,2,64\n"

	res := newTestComparator(t, DefaultPolicy()).Compare("client-1", mustParse(t, tx), mustParse(t, rx))
	assert.Equal(t, 1, res.SkippedTransmitLines)
	assert.Equal(t, 0, res.SkippedReceiveLines, "two-field lines are valid")
	assert.Equal(t, types.DiscrepancyParse, res.Discrepancies[0].Kind)
}

func TestCompareFiles(t *testing.T) {
	dir := t.TempDir()
	txPath := filepath.Join(dir, "server.log")
	rxPath := filepath.Join(dir, "client-1.log")
	require.NoError(t, os.WriteFile(txPath, []byte(buildLog([]uint64{1, 2}, 0)), 0o644))
	require.NoError(t, os.WriteFile(rxPath, []byte(buildLog([]uint64{1, 2}, 5)), 0o644))

	c := newTestComparator(t, DefaultPolicy())
	res, err := c.CompareFiles(context.Background(), "client-1", txPath, rxPath)
	require.NoError(t, err)
	assert.True(t, res.Passed)

	_, err = c.CompareFiles(context.Background(), "client-2", txPath, filepath.Join(dir, "missing.log"))
	var nf *types.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "client-2", nf.Node)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.CompareFiles(ctx, "client-1", txPath, rxPath)
	require.ErrorIs(t, err, context.Canceled)
}
