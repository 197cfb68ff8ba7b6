package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/orchestra/pkg/api"
	"github.com/cuemby/orchestra/pkg/config"
	"github.com/cuemby/orchestra/pkg/daemon"
	"github.com/cuemby/orchestra/pkg/log"
	"github.com/cuemby/orchestra/pkg/metrics"
	"github.com/cuemby/orchestra/pkg/service"
	"github.com/cuemby/orchestra/pkg/storage"
)

var controllerCmd = &cobra.Command{
	Use:   "controller",
	Short: "Run the Orchestration-Controls and service-level HTTP API",
	RunE:  runController,
}

func init() {
	controllerCmd.Flags().String("addr", ":8080", "HTTP listen address")
}

// statusProvider mirrors metrics.statusSource's unexported method set
// so a *controller.SQLiteController can be passed to NewCollector
// without the two packages needing to share a named type.
type statusProvider interface {
	Status() (queueSize, registrySize int, running []string, err error)
}

func runController(cmd *cobra.Command, args []string) error {
	addr, _ := cmd.Flags().GetString("addr")

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	cp, closeCP, err := buildControlPlane(cfg)
	if err != nil {
		return err
	}
	defer closeCP()

	notifier, closeNotifier, err := buildNotifier(cfg)
	if err != nil {
		return err
	}
	defer closeNotifier()

	abortCoord := buildAbortCoordinator(cp, notifier, cfg)
	adapter := service.New(cp, abortCoord, hostname())

	kv, err := storage.NewDiskStore(cfg.FSMountPoint, "kv.db")
	if err != nil {
		return fmt.Errorf("open kv store: %w", err)
	}
	defer kv.Close()

	var sp statusProvider
	if s, ok := cp.(statusProvider); ok {
		sp = s
	}
	collector := metrics.NewCollector(sp, nil, time.Second)
	collector.Start()
	defer collector.Stop()

	ctrlDaemon := daemon.New("controller-reconcile", func(ctx context.Context) error {
		if sp == nil {
			return nil
		}
		queueSize, registrySize, running, err := sp.Status()
		if err != nil {
			return err
		}
		log.WithComponent("controller").Debug().
			Int("queue", queueSize).
			Int("registry", registrySize).
			Int("running", len(running)).
			Msg("reconcile tick")
		return nil
	})
	ctrlDaemon.Start(cfg.DaemonInterval, true)
	defer ctrlDaemon.Stop(true)

	server := api.New(api.Config{
		ControlPlane:     cp,
		Adapter:          adapter,
		AbortCoord:       abortCoord,
		Notifier:         notifier,
		KV:               kv,
		Host:             hostname(),
		AllowCORS:        cfg.AllowCORS,
		ControllerDaemon: ctrlDaemon,
	})

	errCh := make(chan error, 1)
	go func() {
		fmt.Printf("orchestra controller listening on %s\n", addr)
		if err := server.ListenAndServe(addr); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		fmt.Println("shutting down")
	case err := <-errCh:
		return err
	}
	return nil
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}
