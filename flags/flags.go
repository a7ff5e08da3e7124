package flags

import (
	"fmt"

	"github.com/urfave/cli/v2"

	opservice "github.com/ethereum-optimism/optimism/op-service"
	opflags "github.com/ethereum-optimism/optimism/op-service/flags"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"
	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"

	"github.com/ethereum-optimism/infra/op-caserunner/discovery"
	"github.com/ethereum-optimism/infra/op-caserunner/policy"
	"github.com/ethereum-optimism/infra/op-caserunner/processor"
)

const EnvVarPrefix = "OP_CASERUNNER"

var (
	Roots = &cli.StringSliceFlag{
		Name:    "roots",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "ROOTS"),
		Usage:   "Files, directories or module import paths to discover case files from (defaults to the working directory)",
	}
	Patterns = &cli.StringSliceFlag{
		Name:    "patterns",
		Value:   cli.NewStringSlice(discovery.DefaultPattern),
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "PATTERNS"),
		Usage:   "Glob patterns a case file name must match",
	}
	SuiteConfig = &cli.StringFlag{
		Name:    "config",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "CONFIG"),
		Usage:   "Path to a YAML suite file supplying roots, patterns, filters, policies and processes",
	}
	Processes = &cli.IntFlag{
		Name:    "processes",
		Value:   processor.MinProcesses,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "PROCESSES"),
		Usage:   fmt.Sprintf("Number of worker processes (%d runs in-process, capped at %d)", processor.MinProcesses, processor.MaxProcesses),
	}
	RunInterval = &cli.DurationFlag{
		Name:    "run-interval",
		Value:   0,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "RUN_INTERVAL"),
		Usage:   "Interval between runs (e.g. '1h', '30m'). Set to 0 or omit for run-once mode.",
	}
	Cases = &cli.StringSliceFlag{
		Name:    "cases",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "CASES"),
		Usage:   "Regular expressions a case name must match",
	}
	Methods = &cli.StringSliceFlag{
		Name:    "methods",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "METHODS"),
		Usage:   "Regular expressions a 'Case::Method' name must match",
	}
	Groups = &cli.StringSliceFlag{
		Name:    "groups",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "GROUPS"),
		Usage:   "Only run tests in one of these @group annotations",
	}
	ExcludeGroups = &cli.StringSliceFlag{
		Name:    "exclude-groups",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "EXCLUDE_GROUPS"),
		Usage:   "Never run tests in one of these @group annotations",
	}
	OnError = &cli.StringFlag{
		Name:    "on-error",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "ON_ERROR"),
		Usage:   policyUsage("errors", policy.StrategyRethrow),
	}
	OnFailure = &cli.StringFlag{
		Name:    "on-failure",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "ON_FAILURE"),
		Usage:   policyUsage("assertion failures", policy.StrategySwallow),
	}
	OnIncomplete = &cli.StringFlag{
		Name:    "on-incomplete",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "ON_INCOMPLETE"),
		Usage:   policyUsage("incomplete tests", policy.StrategySwallow),
	}
	OnSkip = &cli.StringFlag{
		Name:    "on-skip",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "ON_SKIP"),
		Usage:   policyUsage("skipped tests", policy.StrategySwallow),
	}
	Strict = &cli.BoolFlag{
		Name:    "strict",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "STRICT"),
		Usage:   "Swallowed incomplete and skipped outcomes still mark the run as failed",
	}
	LogDir = &cli.StringFlag{
		Name:    "logdir",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "LOGDIR"),
		Usage:   "Directory to write per-run event logs and summaries to. Disabled when empty.",
	}
	HealthzAddr = &cli.StringFlag{
		Name:    "healthz.addr",
		Value:   "0.0.0.0:8080",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "HEALTHZ_ADDR"),
		Usage:   "Listening address of the health endpoint, served alongside metrics",
	}
)

func policyUsage(what, def string) string {
	return fmt.Sprintf("Strategy for %s: %s, %s or %s (default %s)",
		what, policy.StrategyRethrow, policy.StrategyWrap, policy.StrategySwallow, def)
}

var requiredFlags = []cli.Flag{}

var optionalFlags = []cli.Flag{
	Roots,
	Patterns,
	SuiteConfig,
	Processes,
	RunInterval,
	Cases,
	Methods,
	Groups,
	ExcludeGroups,
	OnError,
	OnFailure,
	OnIncomplete,
	OnSkip,
	Strict,
	LogDir,
	HealthzAddr,
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
	return opflags.CheckRequiredXor(ctx)
}
