package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/aura-net/mcast-acceptor/types"
)

// sshConnectionFailure is the exit status ssh reserves for its own errors.
const sshConnectionFailure = 255

// CommandResult is the outcome of one command on one node.
type CommandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// CommandRunner runs a shell command on a node. A non-zero exit status is
// reported through CommandResult.ExitCode, not as an error; errors mean the
// command could not be run at all.
type CommandRunner interface {
	Run(ctx context.Context, node types.Node, command string) (CommandResult, error)
}

// SSHRunner runs commands through the system ssh binary in batch mode.
type SSHRunner struct {
	Binary         string
	ConnectTimeout time.Duration
	ExtraArgs      []string
}

// NewSSHRunner returns an SSHRunner using the ssh binary on PATH.
func NewSSHRunner(connectTimeout time.Duration, extraArgs ...string) *SSHRunner {
	return &SSHRunner{
		Binary:         "ssh",
		ConnectTimeout: connectTimeout,
		ExtraArgs:      extraArgs,
	}
}

// Args returns the ssh argument list for running command on node.
func (r *SSHRunner) Args(node types.Node, command string) []string {
	args := []string{"-o", "BatchMode=yes"}
	if r.ConnectTimeout > 0 {
		secs := int(r.ConnectTimeout.Round(time.Second) / time.Second)
		if secs < 1 {
			secs = 1
		}
		args = append(args, "-o", "ConnectTimeout="+strconv.Itoa(secs))
	}
	if node.Port != 0 {
		args = append(args, "-p", strconv.Itoa(node.Port))
	}
	args = append(args, r.ExtraArgs...)
	return append(args, node.Target(), command)
}

func (r *SSHRunner) Run(ctx context.Context, node types.Node, command string) (CommandResult, error) {
	res, err := Exec(ctx, r.Binary, r.Args(node, command)...)
	if err != nil {
		if ctx.Err() != nil {
			return res, err
		}
		return res, &types.ConnectionError{Node: node.ID, Err: err}
	}
	if res.ExitCode == sshConnectionFailure {
		return res, &types.ConnectionError{Node: node.ID, Err: errors.New(CleanOutput(res.Stderr))}
	}
	return res, nil
}

// LocalRunner runs commands on the controller host through sh -c.
type LocalRunner struct {
	Shell string
}

func (r *LocalRunner) Run(ctx context.Context, node types.Node, command string) (CommandResult, error) {
	shell := r.Shell
	if shell == "" {
		shell = "sh"
	}
	return Exec(ctx, shell, "-c", command)
}

// Dispatcher sends commands for local nodes to Local and all others to Remote.
type Dispatcher struct {
	Local  CommandRunner
	Remote CommandRunner
}

func (d *Dispatcher) Run(ctx context.Context, node types.Node, command string) (CommandResult, error) {
	if node.IsLocal() {
		return d.Local.Run(ctx, node, command)
	}
	return d.Remote.Run(ctx, node, command)
}

// Exec runs a process and captures its output. A process that started and
// exited non-zero is not an error.
func Exec(ctx context.Context, name string, args ...string) (CommandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	res := CommandResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return res, ctxErr
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		return res, fmt.Errorf("failed to run %s: %w", name, err)
	}
	return res, nil
}

// ShellQuote quotes s for safe use as a single POSIX shell word.
func ShellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if strings.IndexFunc(s, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' ||
			strings.ContainsRune("@%+=:,./-_", r))
	}) < 0 {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
