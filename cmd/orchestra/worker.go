package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/orchestra/pkg/config"
	"github.com/cuemby/orchestra/pkg/metrics"
	"github.com/cuemby/orchestra/pkg/worker"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Lease and execute jobs against a Controller",
	RunE:  runWorker,
}

func init() {
	workerCmd.Flags().String("replica-id", "", "Unique replica ID (defaults to hostname)")
}

func runWorker(cmd *cobra.Command, args []string) error {
	replicaID, _ := cmd.Flags().GetString("replica-id")
	if replicaID == "" {
		replicaID = hostname()
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	cp, closeCP, err := buildControlPlane(cfg)
	if err != nil {
		return err
	}
	defer closeCP()

	runner := selectRunner(cfg)

	pool := worker.NewPool(worker.Config{
		ReplicaID:       replicaID,
		Host:            hostname(),
		Slots:           cfg.WorkerPoolSize,
		Controller:      cp,
		Runner:          runner,
		LeaseInterval:   cfg.WorkerInterval,
		RefreshInterval: cfg.WorkerArgs.RefreshInterval,
		ProcessTimeout:  cfg.WorkerArgs.ProcessTimeout,
		MaxRequeues:     cfg.ControllerArgs.MaxRequeues,
	})
	pool.Start()
	defer pool.Stop()

	collector := metrics.NewCollector(nil, pool, time.Second)
	collector.Start()
	defer collector.Stop()

	fmt.Printf("orchestra worker %s started with %d slot(s)\n", replicaID, cfg.WorkerPoolSize)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	fmt.Println("shutting down")
	return nil
}

// selectRunner picks the process-isolation strategy named by
// ORCHESTRA_MP_METHOD (spec.md §4 "Process-creation method is
// configurable"): "inprocess" trades isolation for simplicity (used in
// this module's own tests); any other value, including the default
// "spawn", forks one child per job via ExecRunner.
func selectRunner(cfg *config.Config) worker.Runner {
	if cfg.MPMethod == "inprocess" {
		return &worker.InProcessRunner{PushInterval: cfg.WorkerArgs.RefreshInterval}
	}
	return worker.NewExecRunner(cfg.WorkerArgs.AbortGrace)
}
