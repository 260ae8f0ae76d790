package types

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// RunStatus represents the possible outcomes of a run or comparison
type RunStatus string

const (
	RunStatusPass  RunStatus = "pass"
	RunStatusFail  RunStatus = "fail"
	RunStatusError RunStatus = "error"
)

// NodeOutcome captures everything that happened to one node during a run.
type NodeOutcome struct {
	Node     Node           `json:"node"`
	Service  string         `json:"service"`
	Start    *ServiceHandle `json:"start,omitempty"`
	Stop     *ServiceHandle `json:"stop,omitempty"`
	LogPath  string         `json:"log_path,omitempty"`
	LogBytes int64          `json:"log_bytes,omitempty"`
}

// RunResult aggregates the outcome of one run. Node tasks write into it
// concurrently under mu, each at its own node key.
type RunResult struct {
	RunID       string                       `json:"run_id"`
	Topology    string                       `json:"topology,omitempty"`
	StartedAt   time.Time                    `json:"started_at"`
	FinishedAt  time.Time                    `json:"finished_at"`
	Duration    time.Duration                `json:"duration_ns"`
	Phase       Phase                        `json:"phase"`
	Phases      []PhaseRecord                `json:"phases"`
	Nodes       map[string]*NodeOutcome      `json:"nodes"`
	Comparisons map[string]*ComparisonResult `json:"comparisons"`
	Errors      []ErrorRecord                `json:"errors"`
	Passed      bool                         `json:"passed"`
	Fatal       bool                         `json:"fatal"`
	FatalReason string                       `json:"fatal_reason,omitempty"`
	Cancelled   bool                         `json:"cancelled"`

	mu sync.Mutex
}

// NewRunResult creates a result with an outcome slot for every node.
func NewRunResult(runID string, startedAt time.Time, nodes ...Node) *RunResult {
	r := &RunResult{
		RunID:       runID,
		StartedAt:   startedAt,
		Phase:       PhaseIdle,
		Nodes:       make(map[string]*NodeOutcome, len(nodes)),
		Comparisons: make(map[string]*ComparisonResult),
		Errors:      make([]ErrorRecord, 0),
	}
	for _, n := range nodes {
		r.Nodes[n.ID] = &NodeOutcome{Node: n}
	}
	return r
}

// UpdateNode applies fn to the outcome of the given node.
func (r *RunResult) UpdateNode(nodeID string, fn func(o *NodeOutcome)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.Nodes[nodeID]
	if !ok {
		o = &NodeOutcome{Node: Node{ID: nodeID}}
		r.Nodes[nodeID] = o
	}
	fn(o)
}

// RecordError attaches an error to the result. Nil errors are ignored.
func (r *RunResult) RecordError(nodeID string, phase Phase, err error) {
	if err == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Errors = append(r.Errors, ErrorRecord{
		Node:    nodeID,
		Phase:   phase,
		Kind:    ClassifyError(err),
		Message: err.Error(),
	})
}

// SetComparison stores the comparison result for a client.
func (r *RunResult) SetComparison(cr *ComparisonResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Comparisons[cr.Client] = cr
}

// MarkFatal flags the run as fatally failed. The first reason wins.
func (r *RunResult) MarkFatal(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.Fatal {
		r.FatalReason = reason
	}
	r.Fatal = true
}

// MarkCancelled flags the run as cancelled by the operator.
func (r *RunResult) MarkCancelled(cause error) {
	r.MarkFatal(fmt.Sprintf("run cancelled: %v", cause))
	r.mu.Lock()
	r.Cancelled = true
	r.mu.Unlock()
}

// EnterPhase records a phase transition.
func (r *RunResult) EnterPhase(p Phase, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Phase = p
	r.Phases = append(r.Phases, PhaseRecord{Phase: p, EnteredAt: at})
}

// Finalize computes the overall verdict. A run passes iff it was not fatal,
// recorded no infrastructure errors, and every client comparison passed.
func (r *RunResult) Finalize(finishedAt time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.FinishedAt = finishedAt
	r.Duration = finishedAt.Sub(r.StartedAt)

	passed := !r.Fatal && len(r.Errors) == 0 && len(r.Comparisons) > 0
	for _, c := range r.Comparisons {
		if !c.Passed {
			passed = false
		}
	}
	r.Passed = passed
}

// InfrastructureFailed reports whether any start/stop/fetch error occurred or
// the run was aborted.
func (r *RunResult) InfrastructureFailed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Fatal || len(r.Errors) > 0
}

// FailedComparisons returns the clients whose comparison did not pass, sorted.
func (r *RunResult) FailedComparisons() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var failed []string
	for client, c := range r.Comparisons {
		if !c.Passed {
			failed = append(failed, client)
		}
	}
	sort.Strings(failed)
	return failed
}

// Status returns error for infrastructure failures, otherwise pass or fail.
func (r *RunResult) Status() RunStatus {
	if r.InfrastructureFailed() {
		return RunStatusError
	}
	if r.Passed {
		return RunStatusPass
	}
	return RunStatusFail
}

// NodeIDs returns the node identifiers in sorted order.
func (r *RunResult) NodeIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.Nodes))
	for id := range r.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// String summarizes the result on one line.
func (r *RunResult) String() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	passedClients := 0
	for _, c := range r.Comparisons {
		if c.Passed {
			passedClients++
		}
	}
	return fmt.Sprintf("run %s: passed=%t clients=%d/%d errors=%d fatal=%t duration=%s",
		r.RunID, r.Passed, passedClients, len(r.Comparisons), len(r.Errors), r.Fatal, r.Duration.Round(time.Millisecond))
}
