// Package reporting persists run results and renders them for humans.
package reporting

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/aura-net/mcast-acceptor/types"
)

const (
	ResultFileName  = "result.json"
	SummaryFileName = "summary.log"
)

// WriteResult writes result as indented JSON to <dir>/result.json. The file
// is written to a temporary name first so readers never see a partial file.
func WriteResult(dir string, result *types.RunResult) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode result: %w", err)
	}

	path := filepath.Join(dir, ResultFileName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return "", fmt.Errorf("failed to write result: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("failed to write result: %w", err)
	}
	return path, nil
}

// ReadResult loads a result written by WriteResult.
func ReadResult(path string) (*types.RunResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var result types.RunResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to decode result %s: %w", path, err)
	}
	return &result, nil
}

// WriteSummary writes a plain text results table to <dir>/summary.log.
func WriteSummary(dir string, result *types.RunResult) (string, error) {
	t := NewResultsTable(result)
	t.SetStyle(table.StyleLight)

	path := filepath.Join(dir, SummaryFileName)
	content := t.Render() + "\n" + result.String() + "\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("failed to write summary: %w", err)
	}
	return path, nil
}
