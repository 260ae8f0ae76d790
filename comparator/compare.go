package comparator

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/aura-net/mcast-acceptor/types"
)

const defaultMaxDiscrepancies = 100

// Comparator compares a transmit log against receive logs under a Policy.
type Comparator struct {
	policy Policy
	log    log.Logger
}

// New creates a comparator. A zero MaxDiscrepancies uses the default cap.
func New(policy Policy, logger log.Logger) *Comparator {
	if policy.MaxDiscrepancies == 0 {
		policy.MaxDiscrepancies = defaultMaxDiscrepancies
	}
	return &Comparator{
		policy: policy,
		log:    logger.New("component", "comparator"),
	}
}

// Policy returns the effective policy.
func (c *Comparator) Policy() Policy {
	return c.policy
}

// CompareFiles parses both logs from disk and compares them. A missing file
// is returned as an error; an empty receive log is a valid 100% loss.
func (c *Comparator) CompareFiles(ctx context.Context, client, transmitPath, receivePath string) (*types.ComparisonResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tx, err := ParseLogFile(transmitPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &types.NotFoundError{Path: transmitPath}
		}
		return nil, fmt.Errorf("failed to parse transmit log: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rx, err := ParseLogFile(receivePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &types.NotFoundError{Node: client, Path: receivePath}
		}
		return nil, fmt.Errorf("failed to parse receive log: %w", err)
	}
	return c.Compare(client, tx, rx), nil
}

// Compare matches received events against transmitted events by sequence
// number.
func (c *Comparator) Compare(client string, tx, rx *ParsedLog) *types.ComparisonResult {
	res := &types.ComparisonResult{
		Client:               client,
		SkippedTransmitLines: tx.Skipped,
		SkippedReceiveLines:  rx.Skipped,
	}
	d := &discrepancies{limit: c.policy.MaxDiscrepancies}

	for _, pe := range tx.Errors {
		d.add(types.Discrepancy{Kind: types.DiscrepancyParse, Source: types.SourceTransmit, Line: pe.Line, Detail: pe.Error()})
	}
	for _, pe := range rx.Errors {
		d.add(types.Discrepancy{Kind: types.DiscrepancyParse, Source: types.SourceReceive, Line: pe.Line, Detail: pe.Error()})
	}

	// Transmit order is the order of first appearance in the transmit log.
	txIndex := make(map[uint64]int, len(tx.Events))
	txEvents := make([]types.LogEvent, 0, len(tx.Events))
	for _, ev := range tx.Events {
		if _, dup := txIndex[ev.Seq]; dup {
			d.add(types.Discrepancy{
				Kind:   types.DiscrepancyDuplicate,
				Seq:    ev.Seq,
				Source: types.SourceTransmit,
				Line:   ev.Line,
				Detail: fmt.Sprintf("sequence %d transmitted more than once", ev.Seq),
			})
			continue
		}
		txIndex[ev.Seq] = len(txEvents)
		txEvents = append(txEvents, ev)
	}
	res.Sent = len(txEvents)

	matched := make([]bool, len(txEvents))
	latencies := make([]int64, 0, len(rx.Events))
	highest := -1

	for _, ev := range rx.Events {
		idx, ok := txIndex[ev.Seq]
		if !ok {
			res.Unexpected++
			d.add(types.Discrepancy{
				Kind:   types.DiscrepancyUnexpected,
				Seq:    ev.Seq,
				Source: types.SourceReceive,
				Line:   ev.Line,
				Detail: fmt.Sprintf("sequence %d received but never transmitted", ev.Seq),
			})
			continue
		}
		if matched[idx] {
			res.Duplicates++
			d.add(types.Discrepancy{
				Kind:   types.DiscrepancyDuplicate,
				Seq:    ev.Seq,
				Source: types.SourceReceive,
				Line:   ev.Line,
				Detail: fmt.Sprintf("sequence %d received more than once", ev.Seq),
			})
			continue
		}
		matched[idx] = true
		res.Received++

		if idx < highest {
			res.OutOfOrder++
			d.add(types.Discrepancy{
				Kind:   types.DiscrepancyReorder,
				Seq:    ev.Seq,
				Source: types.SourceReceive,
				Line:   ev.Line,
				Detail: fmt.Sprintf("sequence %d received after sequence %d", ev.Seq, txEvents[highest].Seq),
			})
		} else {
			highest = idx
		}

		sent := txEvents[idx]
		if sent.Size != ev.Size {
			res.SizeMismatches++
			d.add(types.Discrepancy{
				Kind:   types.DiscrepancySizeMismatch,
				Seq:    ev.Seq,
				Source: types.SourceReceive,
				Line:   ev.Line,
				Detail: fmt.Sprintf("sent %d bytes, received %d", sent.Size, ev.Size),
			})
		}

		latency := ev.Timestamp - sent.Timestamp
		if latency < 0 {
			d.add(types.Discrepancy{
				Kind:   types.DiscrepancyClockSkew,
				Seq:    ev.Seq,
				Source: types.SourceReceive,
				Line:   ev.Line,
				Detail: fmt.Sprintf("received %dms before transmission", -latency),
			})
			continue
		}
		latencies = append(latencies, latency)
	}

	for idx, ok := range matched {
		if ok {
			continue
		}
		res.Lost++
		d.add(types.Discrepancy{
			Kind:   types.DiscrepancyLoss,
			Seq:    txEvents[idx].Seq,
			Source: types.SourceTransmit,
			Line:   txEvents[idx].Line,
			Detail: fmt.Sprintf("sequence %d was never received", txEvents[idx].Seq),
		})
	}

	if res.Sent > 0 {
		res.LossRate = float64(res.Lost) / float64(res.Sent)
	}
	res.Reordered = res.OutOfOrder > 0
	res.Latency = summarizeLatencies(latencies)
	res.Discrepancies = d.records
	res.TruncatedDiscrepancies = d.truncated

	res.FailureReasons = c.evaluate(res)
	res.Passed = len(res.FailureReasons) == 0

	c.log.Debug("Compared logs",
		"client", client,
		"sent", res.Sent,
		"received", res.Received,
		"lost", res.Lost,
		"outOfOrder", res.OutOfOrder,
		"passed", res.Passed)
	return res
}

func (c *Comparator) evaluate(res *types.ComparisonResult) []string {
	var reasons []string
	if res.Sent == 0 {
		reasons = append(reasons, "transmit log contains no events")
	}
	if res.LossRate > c.policy.MaxLossRate {
		reasons = append(reasons, fmt.Sprintf("loss rate %.4f exceeds maximum %.4f (%d of %d packets lost)",
			res.LossRate, c.policy.MaxLossRate, res.Lost, res.Sent))
	}
	if c.policy.FailOnReorder && res.OutOfOrder > 0 {
		reasons = append(reasons, fmt.Sprintf("%d packets received out of order", res.OutOfOrder))
	}
	if c.policy.FailOnSizeMismatch && res.SizeMismatches > 0 {
		reasons = append(reasons, fmt.Sprintf("%d packets received with a different size", res.SizeMismatches))
	}
	if limit := c.policy.MaxP999Latency; limit > 0 && res.Latency.Count > 0 {
		p999 := time.Duration(res.Latency.P999Ms * float64(time.Millisecond))
		if p999 > limit {
			reasons = append(reasons, fmt.Sprintf("p99.9 latency %s exceeds maximum %s", p999, limit))
		}
	}
	return reasons
}

type discrepancies struct {
	limit     int
	records   []types.Discrepancy
	truncated int
}

func (d *discrepancies) add(rec types.Discrepancy) {
	if len(d.records) >= d.limit {
		d.truncated++
		return
	}
	d.records = append(d.records, rec)
}
