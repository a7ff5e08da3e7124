package caserunner

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"

	"github.com/ethereum-optimism/infra/op-caserunner/discovery"
	"github.com/ethereum-optimism/infra/op-caserunner/filter"
	"github.com/ethereum-optimism/infra/op-caserunner/flags"
	"github.com/ethereum-optimism/infra/op-caserunner/policy"
	"github.com/ethereum-optimism/infra/op-caserunner/processor"
)

// Config holds the application configuration
type Config struct {
	Roots       []string
	Patterns    []string
	WorkDir     string        // Directory relative roots are resolved against
	SuiteFile   string        // Optional YAML suite file the values were read from
	Processes   int           // Worker processes, 1 runs in-process
	RunInterval time.Duration // Interval between runs
	RunOnce     bool          // Indicates if the service should exit after one run
	LogDir      string        // Per-run event logs, disabled when empty
	Settings    processor.Settings
	Metrics     opmetrics.CLIConfig
	HealthzAddr string
	Log         log.Logger
}

// Suite is the layout of the optional YAML suite file.
type Suite struct {
	Roots              []string `yaml:"roots"`
	Patterns           []string `yaml:"patterns"`
	Processes          int      `yaml:"processes"`
	processor.Settings `yaml:",inline"`
}

// LoadSuite reads a suite file. Unknown keys are rejected.
func LoadSuite(path string) (*Suite, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open suite file: %w", err)
	}
	defer f.Close()

	var suite Suite
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&suite); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse suite file %s: %w", path, err)
	}
	return &suite, nil
}

// NewConfig creates a new Config from cli context. Flags that were set
// explicitly win over values from the suite file.
func NewConfig(ctx *cli.Context, log log.Logger) (*Config, error) {
	if err := flags.CheckRequired(ctx); err != nil {
		return nil, fmt.Errorf("missing required flags: %w", err)
	}

	workDir, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve working directory: %w", err)
	}

	cfg := &Config{
		WorkDir:     workDir,
		Patterns:    []string{discovery.DefaultPattern},
		Processes:   processor.MinProcesses,
		RunInterval: ctx.Duration(flags.RunInterval.Name),
		Metrics:     opmetrics.ReadCLIConfig(ctx),
		HealthzAddr: ctx.String(flags.HealthzAddr.Name),
		Log:         log,
	}
	cfg.RunOnce = cfg.RunInterval == 0

	if logDir := ctx.String(flags.LogDir.Name); logDir != "" {
		cfg.LogDir, err = filepath.Abs(logDir)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve absolute path for log directory '%s': %w", logDir, err)
		}
	}

	if path := ctx.String(flags.SuiteConfig.Name); path != "" {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve absolute path for suite file '%s': %w", path, err)
		}
		suite, err := LoadSuite(absPath)
		if err != nil {
			return nil, err
		}
		cfg.SuiteFile = absPath
		cfg.apply(suite)
	}

	if ctx.IsSet(flags.Roots.Name) {
		cfg.Roots = ctx.StringSlice(flags.Roots.Name)
		cfg.WorkDir = workDir
	}
	if ctx.IsSet(flags.Patterns.Name) || cfg.SuiteFile == "" {
		cfg.Patterns = ctx.StringSlice(flags.Patterns.Name)
	}
	if ctx.IsSet(flags.Processes.Name) {
		cfg.Processes = ctx.Int(flags.Processes.Name)
	}
	overrideSlice(ctx, flags.Cases, &cfg.Settings.Filter.Cases)
	overrideSlice(ctx, flags.Methods, &cfg.Settings.Filter.Methods)
	overrideSlice(ctx, flags.Groups, &cfg.Settings.Filter.Groups)
	overrideSlice(ctx, flags.ExcludeGroups, &cfg.Settings.Filter.ExcludeGroups)
	overrideString(ctx, flags.OnError, &cfg.Settings.Policy.Error)
	overrideString(ctx, flags.OnFailure, &cfg.Settings.Policy.Failure)
	overrideString(ctx, flags.OnIncomplete, &cfg.Settings.Policy.Incomplete)
	overrideString(ctx, flags.OnSkip, &cfg.Settings.Policy.Skip)
	if ctx.IsSet(flags.Strict.Name) {
		cfg.Settings.Policy.Strict = ctx.Bool(flags.Strict.Name)
	}
	if n := processor.ClampProcesses(cfg.Processes); n != cfg.Processes {
		log.Warn("Process count clamped", "requested", cfg.Processes, "using", n)
		cfg.Processes = n
	}

	if err := cfg.Check(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// apply copies suite values into the config. Roots are resolved against the
// suite file's directory.
func (c *Config) apply(suite *Suite) {
	if len(suite.Roots) > 0 {
		c.Roots = suite.Roots
		c.WorkDir = filepath.Dir(c.SuiteFile)
	}
	if len(suite.Patterns) > 0 {
		c.Patterns = suite.Patterns
	}
	if suite.Processes != 0 {
		c.Processes = suite.Processes
	}
	c.Settings = suite.Settings
}

// Check validates the configuration.
func (c *Config) Check() error {
	if c.Processes < processor.MinProcesses {
		return fmt.Errorf("processes must be at least %d, got %d", processor.MinProcesses, c.Processes)
	}
	if c.RunInterval < 0 {
		return fmt.Errorf("run interval must not be negative, got %s", c.RunInterval)
	}
	for _, p := range c.Patterns {
		if _, err := filepath.Match(p, ""); err != nil {
			return fmt.Errorf("invalid pattern %q: %w", p, err)
		}
	}
	if _, err := policy.NewContextFromConfig(c.Settings.Policy); err != nil {
		return fmt.Errorf("invalid policy: %w", err)
	}
	if _, err := filter.New(c.Settings.Filter); err != nil {
		return fmt.Errorf("invalid filter: %w", err)
	}
	if c.Metrics.Enabled {
		if err := c.Metrics.Check(); err != nil {
			return fmt.Errorf("invalid metrics config: %w", err)
		}
		if _, _, err := net.SplitHostPort(c.HealthzAddr); err != nil {
			return fmt.Errorf("invalid healthz address %q: %w", c.HealthzAddr, err)
		}
	}
	return nil
}

// MetricsAddr is the listening address of the metrics server.
func (c *Config) MetricsAddr() string {
	return net.JoinHostPort(c.Metrics.ListenAddr, strconv.Itoa(c.Metrics.ListenPort))
}

func overrideSlice(ctx *cli.Context, f *cli.StringSliceFlag, dst *[]string) {
	if ctx.IsSet(f.Name) {
		*dst = ctx.StringSlice(f.Name)
	}
}

func overrideString(ctx *cli.Context, f *cli.StringFlag, dst *string) {
	if ctx.IsSet(f.Name) {
		*dst = ctx.String(f.Name)
	}
}
