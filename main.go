package main

import (
	"context"
	"fmt"
	"os"

	"github.com/sebastian-kuebeck/encab/internal/bootstrap"
	"github.com/sebastian-kuebeck/encab/internal/exitcodes"
	"github.com/sebastian-kuebeck/encab/internal/extbus"
	"github.com/sebastian-kuebeck/encab/internal/orchestrator"
)

func main() {
	os.Exit(run())
}

func run() int {
	var configPath string
	argv := os.Args[1:]
	if len(argv) > 0 && argv[0] != "--" {
		// A bare leading argument that isn't a program override is
		// treated as an explicit config path, matching the Python
		// CLI's optional positional argument.
		if _, err := os.Stat(argv[0]); err == nil {
			configPath = argv[0]
			argv = argv[1:]
		}
	}

	path := bootstrap.ResolveConfigPath(configPath)
	cfg, err := bootstrap.LoadConfig(path, os.Getuid())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return bootstrap.ExitCodeForError(err)
	}

	if dryRun, set := bootstrap.DryRunOverride(); set {
		cfg.Encab.DryRun = &dryRun
	}

	logger := bootstrap.SetUpLogger(cfg.Encab, os.Stderr)

	bus := extbus.New(logger)
	if err := bootstrap.SetUpExtensions(bus, bootstrap.Registry(logger), cfg, *cfg.Encab.DryRun); err != nil {
		logger.Error("extension setup failed", "error", err)
		return bootstrap.ExitCodeForError(err)
	}

	if *cfg.Encab.DryRun {
		logger.Info("dry run: configuration is valid")
		return exitcodes.OK
	}

	if err := bootstrap.ApplyProcessCredentials(cfg.Encab); err != nil {
		logger.Error("failed to apply process credentials", "error", err)
		return bootstrap.ExitCodeForError(err)
	}

	root := bootstrap.BuildRootContext(cfg.Encab, bus)
	root.Finalize("root")

	orch, err := orchestrator.New(cfg, argv, root, logger, bus)
	if err != nil {
		logger.Error("failed to resolve programs", "error", err)
		return bootstrap.ExitCodeForError(err)
	}

	_, cancel := bootstrap.Signals(context.Background(), orch, logger)
	defer cancel()

	bootstrap.NotifyReady()
	orch.Run()

	if cfg.Encab.HaltOnExit != nil && *cfg.Encab.HaltOnExit {
		logger.Info("halt_on_exit set, blocking forever")
		select {}
	}

	return orch.ExitCode()
}
