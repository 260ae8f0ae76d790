package flags

import (
	"fmt"

	"github.com/urfave/cli/v2"

	opservice "github.com/ethereum-optimism/optimism/op-service"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"
	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"
)

const EnvVarPrefix = "MCAST_ACCEPTOR"

var (
	Config = &cli.StringFlag{
		Name:     "config",
		Value:    "",
		Required: true,
		EnvVars:  opservice.PrefixEnvVar(EnvVarPrefix, "CONFIG"),
		Usage:    "Path to the topology file (eg. 'lab.yaml' or 'lab.toml')",
	}
	Output = &cli.StringFlag{
		Name:     "output",
		Value:    "",
		Required: true,
		EnvVars:  opservice.PrefixEnvVar(EnvVarPrefix, "OUTPUT"),
		Usage:    "Directory that receives result.json, summary.log and the collected logs",
	}
	RunDuration = &cli.DurationFlag{
		Name:    "run-duration",
		Value:   0,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "RUN_DURATION"),
		Usage:   "How long the transmitter runs before services are stopped. Overrides the topology file when set.",
	}
	ServiceTimeout = &cli.DurationFlag{
		Name:    "service-timeout",
		Value:   0,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "SERVICE_TIMEOUT"),
		Usage:   "Timeout for a single service start or stop. Overrides the topology file when set.",
	}
	PollInterval = &cli.DurationFlag{
		Name:    "poll-interval",
		Value:   0,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "POLL_INTERVAL"),
		Usage:   "Interval between service status checks. Overrides the topology file when set.",
	}
	MaxParallel = &cli.IntFlag{
		Name:    "max-parallel",
		Value:   0,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "MAX_PARALLEL"),
		Usage:   "Maximum number of concurrent node operations per phase (0 = one per node)",
	}
	MaxLossRate = &cli.Float64Flag{
		Name:    "max-loss-rate",
		Value:   0,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "MAX_LOSS_RATE"),
		Usage:   "Highest tolerated fraction of lost packets per client. Overrides the topology file when set.",
		Action: func(_ *cli.Context, v float64) error {
			if v < 0 || v > 1 {
				return fmt.Errorf("max-loss-rate must be between 0 and 1, got %v", v)
			}
			return nil
		},
	}
	FailOnReorder = &cli.BoolFlag{
		Name:    "fail-on-reorder",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "FAIL_ON_REORDER"),
		Usage:   "Fail a client when packets arrive out of order. Overrides the topology file when set.",
	}
	RunInterval = &cli.DurationFlag{
		Name:    "run-interval",
		Value:   0,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "RUN_INTERVAL"),
		Usage:   "Interval between runs (e.g. '1h', '30m'). Set to 0 or omit for run-once mode.",
	}
	ResultsDB = &cli.StringFlag{
		Name:    "results-db",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "RESULTS_DB"),
		Usage:   "Postgres connection URI to record run history in. Disabled when empty.",
	}
	StatusEnabled = &cli.BoolFlag{
		Name:    "status.enabled",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "STATUS_ENABLED"),
		Usage:   "Serve /healthz, /status and /runs over HTTP",
	}
	StatusAddr = &cli.StringFlag{
		Name:    "status.addr",
		Value:   "0.0.0.0",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "STATUS_ADDR"),
		Usage:   "Status server listening address",
	}
	StatusPort = &cli.IntFlag{
		Name:    "status.port",
		Value:   8080,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "STATUS_PORT"),
		Usage:   "Status server listening port",
	}
)

var requiredFlags = []cli.Flag{
	Config,
	Output,
}

var optionalFlags = []cli.Flag{
	RunDuration,
	ServiceTimeout,
	PollInterval,
	MaxParallel,
	MaxLossRate,
	FailOnReorder,
	RunInterval,
	ResultsDB,
	StatusEnabled,
	StatusAddr,
	StatusPort,
}
var Flags []cli.Flag

func init() {
	optionalFlags = append(optionalFlags, oplog.CLIFlags(EnvVarPrefix)...)
	optionalFlags = append(optionalFlags, opmetrics.CLIFlags(EnvVarPrefix)...)

	Flags = append(requiredFlags, optionalFlags...)
}

func CheckRequired(ctx *cli.Context) error {
	for _, f := range requiredFlags {
		if !ctx.IsSet(f.Names()[0]) {
			return fmt.Errorf("flag %s is required", f.Names()[0])
		}
	}
	return nil
}
