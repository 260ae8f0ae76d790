package comparator

import (
	"fmt"
	"time"
)

// Policy decides whether a comparison passes.
type Policy struct {
	// MaxLossRate is the highest tolerated fraction of lost packets, 0 to 1.
	MaxLossRate        float64
	FailOnReorder      bool
	FailOnSizeMismatch bool
	// MaxP999Latency fails the comparison when the p99.9 latency exceeds it.
	// Zero disables the check.
	MaxP999Latency time.Duration
	// MaxDiscrepancies caps the discrepancy records kept per result.
	MaxDiscrepancies int
}

// DefaultPolicy fails on any loss or size mismatch and tolerates reordering.
func DefaultPolicy() Policy {
	return Policy{
		MaxLossRate:        0,
		FailOnReorder:      false,
		FailOnSizeMismatch: true,
		MaxDiscrepancies:   100,
	}
}

// Validate checks the policy for out of range values.
func (p Policy) Validate() error {
	if p.MaxLossRate < 0 || p.MaxLossRate > 1 {
		return fmt.Errorf("max loss rate must be between 0 and 1, got %v", p.MaxLossRate)
	}
	if p.MaxP999Latency < 0 {
		return fmt.Errorf("max p99.9 latency must not be negative, got %s", p.MaxP999Latency)
	}
	if p.MaxDiscrepancies < 0 {
		return fmt.Errorf("max discrepancies must not be negative, got %d", p.MaxDiscrepancies)
	}
	return nil
}
