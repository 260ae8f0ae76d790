package remote

import (
	"context"
	"fmt"
	"strings"

	"github.com/acarl005/stripansi"

	"github.com/aura-net/mcast-acceptor/types"
)

// ServiceController controls one kind of service. Implementations are
// selected per service type in the topology.
type ServiceController interface {
	Apply(ctx context.Context, node types.Node, service string, op types.Operation) error
	Status(ctx context.Context, node types.Node, service string) (types.ServiceState, error)
}

// CleanOutput strips terminal escapes and surrounding whitespace from
// command output.
func CleanOutput(s string) string {
	return strings.TrimSpace(stripansi.Strip(s))
}

// SystemdController manages services as systemd units through systemctl.
type SystemdController struct {
	Runner CommandRunner
	// Unit overrides the unit name; by default the service name is used.
	Unit string
	Sudo bool
}

func (c *SystemdController) unit(service string) string {
	if c.Unit != "" {
		return c.Unit
	}
	return service
}

func (c *SystemdController) systemctl(args ...string) string {
	cmd := "systemctl " + strings.Join(args, " ")
	if c.Sudo {
		cmd = "sudo -n " + cmd
	}
	return cmd
}

func (c *SystemdController) Apply(ctx context.Context, node types.Node, service string, op types.Operation) error {
	cmd := c.systemctl(op.String(), ShellQuote(c.unit(service)))
	res, err := c.Runner.Run(ctx, node, cmd)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return &types.ServiceError{
			Node:     node.ID,
			Service:  service,
			Op:       op,
			ExitCode: res.ExitCode,
			Stderr:   CleanOutput(res.Stderr),
		}
	}
	return nil
}

// Status maps `systemctl is-active` output onto a service state. is-active
// exits non-zero for inactive units, so the exit code is not an error here.
func (c *SystemdController) Status(ctx context.Context, node types.Node, service string) (types.ServiceState, error) {
	res, err := c.Runner.Run(ctx, node, c.systemctl("is-active", ShellQuote(c.unit(service))))
	if err != nil {
		return types.ServiceStateUnknown, err
	}
	return systemdState(CleanOutput(res.Stdout)), nil
}

// systemdState maps an ActiveState. Units in transition (activating,
// deactivating) are unknown so that neither start nor stop counts as reached
// until the transition settles.
func systemdState(activeState string) types.ServiceState {
	switch activeState {
	case "active", "reloading":
		return types.ServiceStateRunning
	case "inactive", "failed":
		return types.ServiceStateStopped
	default:
		return types.ServiceStateUnknown
	}
}

// ScriptController runs operator supplied commands. The status command must
// exit 0 while the service runs and non-zero otherwise. The placeholder
// {service} is replaced by the quoted service name.
type ScriptController struct {
	Runner        CommandRunner
	StartCommand  string
	StopCommand   string
	StatusCommand string
}

func (c *ScriptController) expand(tmpl, service string) string {
	return strings.ReplaceAll(tmpl, "{service}", ShellQuote(service))
}

func (c *ScriptController) Apply(ctx context.Context, node types.Node, service string, op types.Operation) error {
	var tmpl string
	switch op {
	case types.OpStart:
		tmpl = c.StartCommand
	case types.OpStop:
		tmpl = c.StopCommand
	default:
		return fmt.Errorf("unsupported operation %s", op)
	}
	if tmpl == "" {
		return fmt.Errorf("no %s command configured for service %s", op, service)
	}

	res, err := c.Runner.Run(ctx, node, c.expand(tmpl, service))
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return &types.ServiceError{
			Node:     node.ID,
			Service:  service,
			Op:       op,
			ExitCode: res.ExitCode,
			Stderr:   CleanOutput(res.Stderr),
		}
	}
	return nil
}

func (c *ScriptController) Status(ctx context.Context, node types.Node, service string) (types.ServiceState, error) {
	if c.StatusCommand == "" {
		return types.ServiceStateUnknown, fmt.Errorf("no status command configured for service %s", service)
	}
	res, err := c.Runner.Run(ctx, node, c.expand(c.StatusCommand, service))
	if err != nil {
		return types.ServiceStateUnknown, err
	}
	if res.ExitCode == 0 {
		return types.ServiceStateRunning, nil
	}
	return types.ServiceStateStopped, nil
}
