package acceptor

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/aura-net/mcast-acceptor/collector"
	"github.com/aura-net/mcast-acceptor/comparator"
	"github.com/aura-net/mcast-acceptor/remote"
	"github.com/aura-net/mcast-acceptor/topology"
)

// newCommandRunner runs commands for local nodes through sh and for every
// other node through ssh.
func newCommandRunner(t *topology.Topology) remote.CommandRunner {
	ssh := remote.NewSSHRunner(t.SSH.ConnectTimeout.Std(), t.SSH.Options...)
	ssh.Binary = t.SSH.Binary
	return &remote.Dispatcher{
		Local:  &remote.LocalRunner{},
		Remote: ssh,
	}
}

func newServiceController(s topology.Service, runner remote.CommandRunner) (remote.ServiceController, error) {
	switch s.Type {
	case topology.ServiceTypeSystemd:
		return &remote.SystemdController{Runner: runner, Unit: s.Unit, Sudo: s.Sudo}, nil
	case topology.ServiceTypeScript:
		return &remote.ScriptController{
			Runner:        runner,
			StartCommand:  s.Start,
			StopCommand:   s.Stop,
			StatusCommand: s.Status,
		}, nil
	default:
		return nil, fmt.Errorf("unknown service type %q for service %s", s.Type, s.Name)
	}
}

func newExecutor(t *topology.Topology, runner remote.CommandRunner, pollInterval time.Duration, logger log.Logger) (*remote.Executor, error) {
	exec := remote.NewExecutor(logger, pollInterval)
	for _, s := range []topology.Service{t.Services.Transmitter, t.Services.Receiver} {
		ctrl, err := newServiceController(s, runner)
		if err != nil {
			return nil, err
		}
		exec.Register(s.Name, ctrl)
	}
	return exec, nil
}

func newCollector(t *topology.Topology, runner remote.CommandRunner, logger log.Logger) *collector.Collector {
	return collector.New(&collector.NodeTransport{
		Local: collector.LocalTransport{},
		Remote: &collector.SCPTransport{
			Runner:    runner,
			Binary:    t.SSH.SCPBinary,
			ExtraArgs: t.SSH.Options,
		},
	}, logger)
}

// policy applies the command line overrides on top of the topology policy.
func policy(t *topology.Topology, cfg *Config) (comparator.Policy, error) {
	p := t.Policy()
	if cfg.MaxLossRate != nil {
		p.MaxLossRate = *cfg.MaxLossRate
	}
	if cfg.FailOnReorder != nil {
		p.FailOnReorder = *cfg.FailOnReorder
	}
	if err := p.Validate(); err != nil {
		return comparator.Policy{}, fmt.Errorf("invalid comparison policy: %w", err)
	}
	return p, nil
}

// durationOr returns override when set, otherwise fallback.
func durationOr(override, fallback time.Duration) time.Duration {
	if override > 0 {
		return override
	}
	return fallback
}

func intOr(override, fallback int) int {
	if override > 0 {
		return override
	}
	return fallback
}
