package acceptor

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"

	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"

	"github.com/aura-net/mcast-acceptor/flags"
)

// Config holds the application configuration. Values left at zero (or nil for
// the pointer overrides) fall back to the topology file.
type Config struct {
	TopologyFile   string
	OutputDir      string
	RunDuration    time.Duration // Overrides the run duration derived from the topology
	ServiceTimeout time.Duration // Per start/stop call
	PollInterval   time.Duration // Between service status checks
	MaxParallel    int           // Concurrent node operations per phase
	MaxLossRate    *float64
	FailOnReorder  *bool
	RunInterval    time.Duration // Interval between runs
	RunOnce        bool          // Exit after one run
	ResultsDB      string        // Postgres URI, empty disables run history
	StatusEnabled  bool
	StatusAddr     string
	StatusPort     int
	MetricsConfig  opmetrics.CLIConfig
	Log            log.Logger
}

// NewConfig creates a new Config from cli context
func NewConfig(ctx *cli.Context, log log.Logger) (*Config, error) {
	if err := flags.CheckRequired(ctx); err != nil {
		return nil, fmt.Errorf("missing required flags: %w", err)
	}
	topologyFile := ctx.String(flags.Config.Name)
	if topologyFile == "" {
		return nil, errors.New("topology file is required")
	}
	outputDir := ctx.String(flags.Output.Name)
	if outputDir == "" {
		return nil, errors.New("output directory is required")
	}

	absTopology, err := filepath.Abs(topologyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path for topology file '%s': %w", topologyFile, err)
	}
	absOutput, err := filepath.Abs(outputDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path for output directory '%s': %w", outputDir, err)
	}

	runInterval := ctx.Duration(flags.RunInterval.Name)
	if runInterval < 0 {
		return nil, fmt.Errorf("run interval must not be negative, got %s", runInterval)
	}

	cfg := &Config{
		TopologyFile:   absTopology,
		OutputDir:      absOutput,
		RunDuration:    ctx.Duration(flags.RunDuration.Name),
		ServiceTimeout: ctx.Duration(flags.ServiceTimeout.Name),
		PollInterval:   ctx.Duration(flags.PollInterval.Name),
		MaxParallel:    ctx.Int(flags.MaxParallel.Name),
		RunInterval:    runInterval,
		RunOnce:        runInterval == 0,
		ResultsDB:      ctx.String(flags.ResultsDB.Name),
		StatusEnabled:  ctx.Bool(flags.StatusEnabled.Name),
		StatusAddr:     ctx.String(flags.StatusAddr.Name),
		StatusPort:     ctx.Int(flags.StatusPort.Name),
		MetricsConfig:  opmetrics.ReadCLIConfig(ctx),
		Log:            log,
	}
	if ctx.IsSet(flags.MaxLossRate.Name) {
		v := ctx.Float64(flags.MaxLossRate.Name)
		cfg.MaxLossRate = &v
	}
	if ctx.IsSet(flags.FailOnReorder.Name) {
		v := ctx.Bool(flags.FailOnReorder.Name)
		cfg.FailOnReorder = &v
	}
	if err := cfg.Check(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Check() error {
	if c.RunDuration < 0 || c.ServiceTimeout < 0 || c.PollInterval < 0 {
		return errors.New("durations must not be negative")
	}
	if c.MaxParallel < 0 {
		return fmt.Errorf("max parallel must not be negative, got %d", c.MaxParallel)
	}
	if c.MaxLossRate != nil && (*c.MaxLossRate < 0 || *c.MaxLossRate > 1) {
		return fmt.Errorf("max loss rate must be between 0 and 1, got %v", *c.MaxLossRate)
	}
	if c.StatusEnabled && (c.StatusPort < 0 || c.StatusPort > 65535) {
		return fmt.Errorf("invalid status port %d", c.StatusPort)
	}
	if err := c.MetricsConfig.Check(); err != nil {
		return fmt.Errorf("invalid metrics config: %w", err)
	}
	return nil
}
