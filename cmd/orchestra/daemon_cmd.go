package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cuemby/orchestra/pkg/config"
	"github.com/cuemby/orchestra/pkg/daemon"
	"github.com/cuemby/orchestra/pkg/log"
)

// daemonCmd runs the generic supervised-loop primitive (spec.md §4.6)
// standalone, independent of the controller process's own
// daemon-wrapped reconcile tick — for a deployment that wants
// housekeeping on its own replica rather than piggybacked on the API
// server.
var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run periodic controller housekeeping standalone",
	RunE:  runDaemonCmd,
}

func runDaemonCmd(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	cp, closeCP, err := buildControlPlane(cfg)
	if err != nil {
		return err
	}
	defer closeCP()

	var sp statusProvider
	if s, ok := cp.(statusProvider); ok {
		sp = s
	}

	d := daemon.New("housekeeping", func(ctx context.Context) error {
		if sp == nil {
			return nil
		}
		queueSize, registrySize, running, err := sp.Status()
		if err != nil {
			return err
		}
		log.WithComponent("daemon").Info().
			Int("queue", queueSize).
			Int("registry", registrySize).
			Int("running", len(running)).
			Msg("housekeeping tick")
		return nil
	})
	d.Start(cfg.DaemonInterval, true)
	defer d.Stop(true)

	fmt.Printf("orchestra daemon running every %s\n", cfg.DaemonInterval)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	fmt.Println("shutting down")
	return nil
}
