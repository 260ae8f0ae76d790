package reporting

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/aura-net/mcast-acceptor/types"
)

// maxErrorWidth keeps error columns readable in a terminal.
const maxErrorWidth = 80

// NewResultsTable builds the results table of a run: one row per node with
// its start, stop and fetch outcome and, for clients, the comparison.
func NewResultsTable(result *types.RunResult) table.Writer {
	t := table.NewWriter()
	t.SetTitle(fmt.Sprintf("Multicast Run %s (%s)", result.RunID, formatDuration(result.Duration)))

	t.AppendHeader(table.Row{
		"Node", "Role", "Start", "Stop", "Log", "Sent", "Received", "Lost", "Reordered", "p99.9", "Status", "Details",
	})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Log", Align: text.AlignRight},
		{Name: "Sent", Align: text.AlignRight},
		{Name: "Received", Align: text.AlignRight},
		{Name: "Lost", Align: text.AlignRight},
		{Name: "Reordered", Align: text.AlignRight},
		{Name: "p99.9", Align: text.AlignRight},
		{Name: "Details", WidthMax: maxErrorWidth, WidthMaxEnforcer: text.WrapSoft},
	})

	errorsByNode := make(map[string][]string)
	for _, e := range result.Errors {
		errorsByNode[e.Node] = append(errorsByNode[e.Node], fmt.Sprintf("%s: %s", e.Phase, e.Message))
	}

	for _, id := range result.NodeIDs() {
		outcome := result.Nodes[id]
		row := table.Row{
			id,
			outcome.Node.Role,
			handleString(outcome.Start),
			handleString(outcome.Stop),
			bytesString(outcome.LogBytes),
		}

		details := errorsByNode[id]
		status := "-"
		if len(details) > 0 {
			status = statusString(types.RunStatusError)
		}
		if cr, ok := result.Comparisons[id]; ok {
			row = append(row, cr.Sent, cr.Received, cr.Lost, cr.OutOfOrder, fmt.Sprintf("%.1fms", cr.Latency.P999Ms))
			if status == "-" {
				status = statusString(cr.Status())
			}
			details = append(details, cr.FailureReasons...)
		} else {
			row = append(row, "-", "-", "-", "-", "-")
		}
		row = append(row, status, strings.Join(details, "; "))
		t.AppendRow(row)
	}

	if result.FatalReason != "" {
		t.AppendSeparator()
		t.AppendRow(table.Row{"run", "", "", "", "", "", "", "", "", "", statusString(types.RunStatusError), result.FatalReason})
	}

	switch result.Status() {
	case types.RunStatusPass:
		t.SetStyle(table.StyleColoredBlackOnGreenWhite)
	case types.RunStatusFail:
		t.SetStyle(table.StyleColoredBlackOnYellowWhite)
	default:
		t.SetStyle(table.StyleColoredBlackOnRedWhite)
	}

	t.AppendFooter(table.Row{
		"TOTAL", "", "", "", "", "", "", "", "", "",
		statusString(result.Status()),
		fmt.Sprintf("%d errors", len(result.Errors)),
	})
	return t
}

// PrintResultsTable renders the colored results table to w.
func PrintResultsTable(w io.Writer, result *types.RunResult) {
	t := NewResultsTable(result)
	t.SetOutputMirror(w)
	t.Render()
}

func handleString(h *types.ServiceHandle) string {
	if h == nil {
		return "-"
	}
	if !h.Reached() {
		return fmt.Sprintf("✗ %s", h.Observed)
	}
	if !h.Changed {
		return "✓ (no-op)"
	}
	return fmt.Sprintf("✓ %s", formatDuration(h.Elapsed))
}

func statusString(status types.RunStatus) string {
	switch status {
	case types.RunStatusPass:
		return "✓ pass"
	case types.RunStatusFail:
		return "✗ fail"
	default:
		return "✗ error"
	}
}

func bytesString(n int64) string {
	switch {
	case n == 0:
		return "-"
	case n < 1024:
		return fmt.Sprintf("%dB", n)
	case n < 1024*1024:
		return fmt.Sprintf("%.1fKiB", float64(n)/1024)
	default:
		return fmt.Sprintf("%.1fMiB", float64(n)/(1024*1024))
	}
}

// Helper function to format duration to seconds with 1 decimal place
func formatDuration(d time.Duration) string {
	return fmt.Sprintf("%.1fs", d.Seconds())
}
