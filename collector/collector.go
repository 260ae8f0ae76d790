// Package collector retrieves artifacts such as service logs from nodes.
package collector

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/log"

	"github.com/aura-net/mcast-acceptor/metrics"
	"github.com/aura-net/mcast-acceptor/types"
)

// DefaultAttempts is one transfer plus one retry after a partial transfer.
const DefaultAttempts = 2

// Collector fetches files through a Transport and verifies their size.
type Collector struct {
	transport Transport
	log       log.Logger
	attempts  int
}

func New(transport Transport, logger log.Logger) *Collector {
	return &Collector{
		transport: transport,
		log:       logger.New("component", "collector"),
		attempts:  DefaultAttempts,
	}
}

// Fetch copies remotePath on node to localPath and returns the number of
// bytes written. Parent directories are created and an existing file is
// replaced. The file only appears at localPath once its size matches the
// remote size; a mismatch is retried once before a PartialTransferError.
func (c *Collector) Fetch(ctx context.Context, node types.Node, remotePath, localPath string) (int64, error) {
	n, err := c.fetch(ctx, node, remotePath, localPath)
	metrics.RecordFetch(node.ID, n, err)
	return n, err
}

func (c *Collector) fetch(ctx context.Context, node types.Node, remotePath, localPath string) (int64, error) {
	logger := c.log.New("node", node.ID, "remote", remotePath)

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return 0, fmt.Errorf("failed to create directory for %s: %w", localPath, err)
	}
	tmpPath := localPath + ".part"
	defer os.Remove(tmpPath)

	var lastErr error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		expected, err := c.transport.Stat(ctx, node, remotePath)
		if err != nil {
			return 0, err
		}
		if err := c.transport.Copy(ctx, node, remotePath, tmpPath); err != nil {
			return 0, err
		}

		fi, err := os.Stat(tmpPath)
		if err != nil {
			return 0, fmt.Errorf("failed to stat local copy %s: %w", tmpPath, err)
		}
		if fi.Size() != expected {
			lastErr = &types.PartialTransferError{
				Node:     node.ID,
				Path:     remotePath,
				Expected: expected,
				Actual:   fi.Size(),
			}
			logger.Warn("Partial transfer", "attempt", attempt, "expected", expected, "actual", fi.Size())
			continue
		}

		if err := os.Rename(tmpPath, localPath); err != nil {
			return 0, fmt.Errorf("failed to move %s into place: %w", localPath, err)
		}
		logger.Debug("Fetched file", "local", localPath, "bytes", fi.Size(), "attempt", attempt)
		return fi.Size(), nil
	}

	if lastErr == nil {
		lastErr = errors.New("no transfer attempted")
	}
	return 0, lastErr
}
