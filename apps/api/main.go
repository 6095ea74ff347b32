package main

import (
	"context"
	"fmt"
	"os"
	"time"

	echoapi "github.com/trezcool/examinator/apps/api/echo"
	"github.com/trezcool/examinator/apps/shared"
	"github.com/trezcool/examinator/core"
	"github.com/trezcool/examinator/services/scheduler"
)

const shutdownTimeout = 20 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	// =========================================================================
	// Set up Dependencies

	conf, err := core.NewConfig()
	if err != nil {
		return err
	}

	logger, syncLogs, err := shared.NewLogger("api", conf)
	if err != nil {
		return err
	}
	defer syncLogs()

	deps, err := shared.Setup(context.Background(), conf, logger, true /* bootstrap */)
	if err != nil {
		logger.Error("setting up dependencies", "error", err)
		return err
	}
	defer func() {
		if err := deps.Close(); err != nil {
			logger.Error("closing dependencies", "error", err)
		}
	}()

	// =========================================================================
	// Initialize App

	logger.Info("application initializing", "version", conf.Build, "env", conf.Env)
	defer logger.Info("application stopped")

	sched := scheduler.NewManager(deps.Licenses, conf.SweepSpec, logger)
	if err := sched.Start(); err != nil {
		return err
	}
	defer sched.Stop()

	// =========================================================================
	// Start API Service

	server := echoapi.NewServer(echoapi.ServerDeps{
		Conf:       conf,
		Logger:     logger,
		Tree:       deps.Tree,
		Curriculum: deps.Curriculum,
		Users:      deps.Users,
		Saas:       deps.Saas,
		Licenses:   deps.Licenses,
	})
	go server.Start()

	// =========================================================================
	// Shutdown

	select {
	case err := <-server.Errors():
		logger.Error("server error", "error", err)
		return err

	case sig := <-server.ShutdownSignal():
		logger.Info("start shutdown", "signal", sig.String())

		// give outstanding requests a deadline for completion
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		// asking listener to shutdown and shed load
		if err := server.Shutdown(ctx); err != nil {
			logger.Error("could not stop server gracefully", "error", err)
			if err := server.Close(); err != nil {
				logger.Error("could not force stop server", "error", err)
				return err
			}
		}
	}
	return nil
}
