package main

import (
	"context"
	"fmt"
	"os"

	"github.com/trezcool/examinator/apps/shared"
	"github.com/trezcool/examinator/core"
)

func main() {
	os.Exit(run())
}

func run() int {
	conf, err := core.NewConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	logger, syncLogs, err := shared.NewLogger("admin", conf)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer syncLogs()

	deps, err := shared.Setup(context.Background(), conf, logger, false /* bootstrap */)
	if err != nil {
		logger.Error("setting up dependencies", "error", err)
		return 1
	}
	defer func() { _ = deps.Close() }()

	// start CLI
	cli := commandLine{deps: deps, db: deps.DB, out: os.Stdout}
	if err := cli.run(os.Args); err != nil {
		if err != errHelp {
			fmt.Fprintf(os.Stderr, "\nerror: %s\n", err)
		}
		return 1
	}
	return 0
}
