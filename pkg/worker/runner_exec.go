package worker

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/cuemby/orchestra/pkg/types"
)

// ExecRunner forks one child process per job via "<executable> run-job"
// (spec.md §4 "Child-process semantics": fresh process, no inherited
// file descriptors), communicating over the child's stdin/stdout using
// the wireMessage protocol. It is the production Runner: a crash in
// the job callable cannot take the worker process down with it.
type ExecRunner struct {
	// GracePeriod is how long ExecRunner waits after sending SIGTERM
	// before escalating to SIGKILL (abortGrace in ORCHESTRA_WORKER_ARGS).
	GracePeriod time.Duration

	// command builds the child's *exec.Cmd. Overridable for tests;
	// defaults to a self-reexec of the running binary.
	command func(ctx context.Context, token, jobName string) (*exec.Cmd, error)
}

// NewExecRunner returns an ExecRunner that self-reexecs the current
// binary with the "run-job" subcommand.
func NewExecRunner(gracePeriod time.Duration) *ExecRunner {
	return &ExecRunner{GracePeriod: gracePeriod, command: defaultChildCommand}
}

func defaultChildCommand(ctx context.Context, token, jobName string) (*exec.Cmd, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("exec runner: resolve executable: %w", err)
	}
	cmd := exec.CommandContext(ctx, exe, "run-job", "--job", jobName, "--token", token)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	return cmd, nil
}

func (r *ExecRunner) Run(ctx context.Context, req RunRequest) (*types.Report, error) {
	cmd, err := r.command(ctx, req.Token, req.JobName)
	if err != nil {
		return nil, err
	}
	cmd.Stdin = bytes.NewReader(req.Input)
	env := cmd.Env
	if env == nil {
		env = os.Environ()
	}
	cmd.Env = append(env,
		"ORCHESTRA_JOB_HOST="+req.Host,
		"ORCHESTRA_JOB_TOKEN="+req.Token,
		"ORCHESTRA_JOB_NAME="+req.JobName,
	)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("exec runner: stdout pipe: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("exec runner: start child: %w", err)
	}

	var lastReport *types.Report
	var runErr error
	linesDone := make(chan struct{})

	go func() {
		defer close(linesDone)
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
		for scanner.Scan() {
			var msg wireMessage
			if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
				continue
			}
			switch msg.Type {
			case "progress":
				if msg.Report != nil {
					lastReport = msg.Report
				}
				if msg.Progress != nil && req.OnProgress != nil {
					req.OnProgress(*msg.Progress, msg.Report)
				}
			case "done":
				if msg.Err != "" {
					runErr = errors.New(msg.Err)
				}
			}
		}
	}()

	waitErr := make(chan error, 1)
	go func() { waitErr <- cmd.Wait() }()

	abort := make(chan struct{})
	abortWatch := make(chan struct{})
	go func() {
		defer close(abortWatch)
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if req.AbortRequested != nil && req.AbortRequested() {
					close(abort)
					return
				}
			case <-linesDone:
				return
			}
		}
	}()

	var exitErr error
	select {
	case <-abort:
		_ = cmd.Process.Signal(syscall.SIGTERM)
		select {
		case exitErr = <-waitErr:
		case <-time.After(r.GracePeriod):
			_ = cmd.Process.Kill()
			exitErr = <-waitErr
		}
	case exitErr = <-waitErr:
	}
	<-linesDone
	<-abortWatch

	if exitErr != nil && runErr == nil {
		runErr = fmt.Errorf("exec runner: child exited: %w (stderr: %s)", exitErr, stderr.String())
	}
	return lastReport, runErr
}
