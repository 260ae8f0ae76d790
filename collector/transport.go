package collector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/aura-net/mcast-acceptor/remote"
	"github.com/aura-net/mcast-acceptor/types"
)

// Transport moves files from a node to the controller host.
type Transport interface {
	// Stat returns the size of the remote file, or a NotFoundError.
	Stat(ctx context.Context, node types.Node, remotePath string) (int64, error)
	// Copy writes the remote file to localPath, overwriting it.
	Copy(ctx context.Context, node types.Node, remotePath, localPath string) error
}

// LocalTransport copies files on the controller host itself.
type LocalTransport struct{}

func (LocalTransport) Stat(_ context.Context, node types.Node, remotePath string) (int64, error) {
	fi, err := os.Stat(remotePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, &types.NotFoundError{Node: node.ID, Path: remotePath}
		}
		return 0, err
	}
	if fi.IsDir() {
		return 0, fmt.Errorf("%s on node %s is a directory", remotePath, node.ID)
	}
	return fi.Size(), nil
}

func (LocalTransport) Copy(ctx context.Context, node types.Node, remotePath, localPath string) error {
	src, err := os.Open(remotePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &types.NotFoundError{Node: node.ID, Path: remotePath}
		}
		return err
	}
	defer src.Close()

	dst, err := os.Create(localPath)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, &ctxReader{ctx: ctx, r: src}); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// SCPTransport stats files through a CommandRunner and copies them with scp.
type SCPTransport struct {
	Runner    remote.CommandRunner
	Binary    string
	ExtraArgs []string
}

func (t *SCPTransport) Stat(ctx context.Context, node types.Node, remotePath string) (int64, error) {
	cmd := fmt.Sprintf("if [ -f %[1]s ]; then stat -c %%s %[1]s; else exit 44; fi", remote.ShellQuote(remotePath))
	res, err := t.Runner.Run(ctx, node, cmd)
	if err != nil {
		return 0, err
	}
	switch res.ExitCode {
	case 0:
	case 44:
		return 0, &types.NotFoundError{Node: node.ID, Path: remotePath}
	default:
		return 0, fmt.Errorf("stat %s on node %s exited with %d: %s", remotePath, node.ID, res.ExitCode, remote.CleanOutput(res.Stderr))
	}

	size, err := strconv.ParseInt(strings.TrimSpace(res.Stdout), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("unexpected stat output for %s on node %s: %q", remotePath, node.ID, res.Stdout)
	}
	return size, nil
}

// Args returns the scp argument list for copying remotePath from node.
func (t *SCPTransport) Args(node types.Node, remotePath, localPath string) []string {
	args := []string{"-q", "-B"}
	if node.Port != 0 {
		args = append(args, "-P", strconv.Itoa(node.Port))
	}
	args = append(args, t.ExtraArgs...)
	return append(args, node.Target()+":"+remotePath, localPath)
}

func (t *SCPTransport) Copy(ctx context.Context, node types.Node, remotePath, localPath string) error {
	binary := t.Binary
	if binary == "" {
		binary = "scp"
	}
	res, err := remote.Exec(ctx, binary, t.Args(node, remotePath, localPath)...)
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		return &types.ConnectionError{Node: node.ID, Err: err}
	}
	if res.ExitCode != 0 {
		msg := remote.CleanOutput(res.Stderr)
		if strings.Contains(msg, "No such file") {
			return &types.NotFoundError{Node: node.ID, Path: remotePath}
		}
		return &types.ConnectionError{Node: node.ID, Err: fmt.Errorf("scp exited with %d: %s", res.ExitCode, msg)}
	}
	return nil
}

// NodeTransport sends local nodes to Local and all others to Remote.
type NodeTransport struct {
	Local  Transport
	Remote Transport
}

func (t *NodeTransport) pick(node types.Node) Transport {
	if node.IsLocal() {
		return t.Local
	}
	return t.Remote
}

func (t *NodeTransport) Stat(ctx context.Context, node types.Node, remotePath string) (int64, error) {
	return t.pick(node).Stat(ctx, node, remotePath)
}

func (t *NodeTransport) Copy(ctx context.Context, node types.Node, remotePath, localPath string) error {
	return t.pick(node).Copy(ctx, node, remotePath, localPath)
}
