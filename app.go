package caserunner

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/optimism/op-service/cliapp"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"

	"github.com/ethereum-optimism/infra/op-caserunner/flags"
	"github.com/ethereum-optimism/infra/op-caserunner/processor"
)

// WorkerCommand is the hidden subcommand worker processes are started with.
const WorkerCommand = "worker"

// NewApp builds the op-caserunner command line application. Binaries that
// register their own cases call it from main.
func NewApp(version string, deps Deps) *cli.App {
	app := cli.NewApp()
	app.Version = version
	app.Name = "op-caserunner"
	app.Usage = "Dependency-aware test case runner"
	app.Description = "op-caserunner discovers annotated case files and runs them in-process or across worker processes"
	app.Flags = cliapp.ProtectFlags(flags.Flags)
	app.Action = cliapp.LifecycleCmd(run(version, deps))
	app.Commands = []*cli.Command{
		{
			Name:   WorkerCommand,
			Usage:  "Run one case file assigned by a parent process",
			Hidden: true,
			Action: worker(deps),
		},
	}
	app.ExitErrHandler = func(c *cli.Context, err error) {
		var exitErr cli.ExitCoder
		if errors.As(err, &exitErr) {
			cli.HandleExitCoder(exitErr)
		} else if err != nil {
			cli.HandleExitCoder(cli.Exit(err.Error(), ExitCode(err)))
		}
	}
	return app
}

func run(version string, deps Deps) cliapp.LifecycleAction {
	return func(ctx *cli.Context, closeApp context.CancelCauseFunc) (cliapp.Lifecycle, error) {
		logCfg := oplog.ReadCLIConfig(ctx)
		lgr := oplog.NewLogger(oplog.AppOut(ctx), logCfg)
		oplog.SetGlobalLogHandler(lgr.Handler())
		oplog.SetupDefaults()

		cfg, err := NewConfig(ctx, lgr)
		if err != nil {
			return nil, NewRuntimeError(fmt.Errorf("failed to create config: %w", err))
		}
		cfg.Log.Debug("Config", "config", cfg)

		if deps.Spawner == nil {
			deps.Spawner = &processor.ExecSpawner{Args: workerArgs(logCfg)}
		}
		svc, err := New(cfg, deps, version, closeApp)
		if err != nil {
			return nil, NewRuntimeError(fmt.Errorf("failed to create case runner: %w", err))
		}
		return svc, nil
	}
}

// worker runs in a child process. Stdout belongs to the parent's terminal, so
// logs go to stderr.
func worker(deps Deps) cli.ActionFunc {
	return func(ctx *cli.Context) error {
		logCfg := oplog.ReadCLIConfig(ctx)
		lgr := oplog.NewLogger(os.Stderr, logCfg)

		status := processor.WorkerMain(ctx.Context, processor.WorkerConfig{
			Log:     lgr,
			Loader:  deps.Loader,
			Globals: deps.Globals,
		})
		if status != 0 {
			return cli.Exit("", status)
		}
		return nil
	}
}

// workerArgs starts the worker subcommand with the parent's log settings.
// Flags given on the parent command line are not inherited by the child
// otherwise; env vars are.
func workerArgs(cfg oplog.CLIConfig) []string {
	var args []string
	if lvl := log.LevelString(cfg.Level); lvl != "unknown" {
		args = append(args, fmt.Sprintf("--%s=%s", oplog.LevelFlagName, lvl))
	}
	if cfg.Format != "" {
		args = append(args, fmt.Sprintf("--%s=%s", oplog.FormatFlagName, cfg.Format))
	}
	args = append(args,
		fmt.Sprintf("--%s=%t", oplog.ColorFlagName, cfg.Color),
		fmt.Sprintf("--%s=%t", oplog.PidFlagName, cfg.Pid),
	)
	return append(args, WorkerCommand)
}
