package types

// DiscrepancyKind classifies a single comparison finding.
type DiscrepancyKind string

const (
	DiscrepancyLoss         DiscrepancyKind = "loss"
	DiscrepancyReorder      DiscrepancyKind = "reorder"
	DiscrepancyDuplicate    DiscrepancyKind = "duplicate"
	DiscrepancyUnexpected   DiscrepancyKind = "unexpected"
	DiscrepancySizeMismatch DiscrepancyKind = "size_mismatch"
	DiscrepancyClockSkew    DiscrepancyKind = "clock_skew"
	DiscrepancyParse        DiscrepancyKind = "parse"
)

// Log sources a discrepancy can refer to.
const (
	SourceTransmit = "transmit"
	SourceReceive  = "receive"
)

// Discrepancy is one record explaining why logs differ.
type Discrepancy struct {
	Kind   DiscrepancyKind `json:"kind"`
	Seq    uint64          `json:"seq,omitempty"`
	Source string          `json:"source,omitempty"`
	Line   int             `json:"line,omitempty"`
	Detail string          `json:"detail"`
}

// LatencySummary holds transmit-to-receive latency statistics in milliseconds.
type LatencySummary struct {
	Count    int     `json:"count"`
	MeanMs   float64 `json:"mean_ms"`
	MedianMs float64 `json:"median_ms"`
	P999Ms   float64 `json:"p999_ms"`
	MinMs    float64 `json:"min_ms"`
	MaxMs    float64 `json:"max_ms"`
}

// ComparisonResult is the outcome of comparing the transmit log against one
// client's receive log. It is immutable once created.
type ComparisonResult struct {
	Client string `json:"client"`

	Sent           int `json:"sent"`
	Received       int `json:"received"`
	Lost           int `json:"lost"`
	OutOfOrder     int `json:"out_of_order"`
	Duplicates     int `json:"duplicates"`
	Unexpected     int `json:"unexpected"`
	SizeMismatches int `json:"size_mismatches"`

	SkippedTransmitLines int `json:"skipped_transmit_lines"`
	SkippedReceiveLines  int `json:"skipped_receive_lines"`

	LossRate  float64        `json:"loss_rate"`
	Reordered bool           `json:"reordered"`
	Latency   LatencySummary `json:"latency"`

	Passed                 bool          `json:"passed"`
	FailureReasons         []string      `json:"failure_reasons,omitempty"`
	Discrepancies          []Discrepancy `json:"discrepancies,omitempty"`
	TruncatedDiscrepancies int           `json:"truncated_discrepancies,omitempty"`
}

// Status returns the comparison outcome as a RunStatus.
func (c *ComparisonResult) Status() RunStatus {
	if c.Passed {
		return RunStatusPass
	}
	return RunStatusFail
}
