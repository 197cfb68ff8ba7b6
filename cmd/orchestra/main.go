package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cuemby/orchestra/pkg/log"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "orchestra",
	Short: "orchestra - job-orchestration core",
	Long: `orchestra runs a lease-based job queue across one or more
replicas: a controller exposes the Orchestration-Controls and
service-level HTTP APIs, workers lease and execute jobs, and a daemon
runs periodic housekeeping.`,
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "", "Override ORCHESTRA_LOGLEVEL (none, error, info, debug)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(controllerCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(runJobCmd)
}

// initLogging runs before every command, matching
// warren/cmd/warren/main.go's cobra.OnInitialize(initLogging) hook. A
// --log-level flag, when set, takes precedence over
// ORCHESTRA_LOGLEVEL so an operator can silence or raise verbosity for
// one invocation without exporting a variable.
func initLogging() {
	level := os.Getenv("ORCHESTRA_LOGLEVEL")
	if level == "" {
		level = "info"
	}
	if flagLevel, _ := rootCmd.PersistentFlags().GetString("log-level"); flagLevel != "" {
		level = flagLevel
	}
	jsonOutput, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(level),
		JSONOutput: jsonOutput,
	})
}
