package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cuemby/orchestra/pkg/worker"
)

// runJobCmd is the hidden child-process entry point worker.ExecRunner
// self-reexecs ("<executable> run-job --job ... --token ...", spec.md
// §4 "Child-process semantics": fresh process, no inherited file
// descriptors). It reads the job's input JSON from stdin and streams
// wireMessage progress/done lines to stdout; it is never meant to be
// invoked directly by an operator.
var runJobCmd = &cobra.Command{
	Use:    "run-job",
	Hidden: true,
	RunE:   runRunJob,
}

func init() {
	runJobCmd.Flags().String("job", "", "Job name to dispatch")
	runJobCmd.Flags().String("token", "", "Job token")
}

func runRunJob(cmd *cobra.Command, args []string) error {
	jobName, _ := cmd.Flags().GetString("job")
	token, _ := cmd.Flags().GetString("token")
	host := os.Getenv("ORCHESTRA_JOB_HOST")

	input, err := io.ReadAll(os.Stdin)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	return worker.RunChild(ctx, host, token, jobName, input, 0, os.Stdout)
}
