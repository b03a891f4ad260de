// Command replay checks recorded TurnWorkflow histories against the
// current workflow code and fails on any non-deterministic change.
package main

import (
	"flag"
	"fmt"
	"os"

	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/propadvisor/orchestrator/internal/registry"
	"github.com/propadvisor/orchestrator/internal/temporal"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: replay history.json [history.json ...]")
		fmt.Fprintln(os.Stderr, "export a history with: temporal workflow show -w turn-<conversation_id> -o json")
	}
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	replayer := worker.NewWorkflowReplayer()
	// activities never run during replay
	if err := registry.NewTurnRegistry(nil, logger).RegisterWorkflows(replayer); err != nil {
		logger.Fatal("Failed to register workflows", zap.Error(err))
	}

	failed := 0
	for _, path := range flag.Args() {
		if err := replayer.ReplayWorkflowHistoryFromJSONFile(temporal.NewLogger(logger), path); err != nil {
			logger.Error("Replay failed (non-deterministic change or invalid history)", zap.String("history", path), zap.Error(err))
			failed++
			continue
		}
		logger.Info("Replay succeeded", zap.String("history", path))
	}
	if failed > 0 {
		os.Exit(1)
	}
}
