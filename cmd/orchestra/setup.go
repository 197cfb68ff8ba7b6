package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/cuemby/orchestra/pkg/abort"
	"github.com/cuemby/orchestra/pkg/config"
	"github.com/cuemby/orchestra/pkg/controller"
	"github.com/cuemby/orchestra/pkg/notify"
	"github.com/cuemby/orchestra/pkg/storage"
)

// buildControlPlane selects the ControlPlane dialect named by
// cfg.Controller (spec.md §6.5: `ORCHESTRA_CONTROLLER ∈ {sqlite,http}`),
// matching the teacher's storage.Store interface + constructor-
// selection idiom (SPEC_FULL.md §9) rather than a plugin registry.
func buildControlPlane(cfg *config.Config) (controller.ControlPlane, func() error, error) {
	switch cfg.Controller {
	case "sqlite":
		cp, err := controller.NewSQLiteController(
			cfg.ControllerArgs.DataSource,
			cfg.ControllerArgs.LeaseTTL,
			cfg.ControllerArgs.MaxRequeues,
		)
		if err != nil {
			return nil, nil, fmt.Errorf("build sqlite controller: %w", err)
		}
		return cp, cp.Close, nil
	case "http":
		cp := controller.NewHTTPController(
			cfg.ControllerArgs.BaseURL,
			cfg.ControllerArgs.Timeout,
			cfg.ControllerArgs.MaxRetries,
			cfg.ControllerArgs.RetryInterval,
		)
		return cp, func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown ORCHESTRA_CONTROLLER %q", cfg.Controller)
	}
}

// buildNotifier wires a notify.Service against disk-backed subscriber
// and message stores under cfg.FSMountPoint, matching spec.md §6.6's
// "Disk KV: ... under dir/" convention for process-local state that
// must survive a restart.
func buildNotifier(cfg *config.Config) (*notify.Service, func() error, error) {
	subscribers, err := storage.NewDiskStore(cfg.FSMountPoint, "subscribers.db")
	if err != nil {
		return nil, nil, fmt.Errorf("open subscriber store: %w", err)
	}
	messages, err := storage.NewDiskStore(cfg.FSMountPoint, "messages.db")
	if err != nil {
		_ = subscribers.Close()
		return nil, nil, fmt.Errorf("open message store: %w", err)
	}
	n := notify.New(subscribers, messages, http.DefaultClient)
	closeFn := func() error {
		_ = subscribers.Close()
		return messages.Close()
	}
	return n, closeFn, nil
}

// buildAbortCoordinator builds the controller subcommand's abort
// Coordinator, keeping the timeout/poll-interval
// relationship (poll at a tenth of the timeout, floor 100ms) in one
// place.
func buildAbortCoordinator(cp controller.ControlPlane, notifier *notify.Service, cfg *config.Config) *abort.Coordinator {
	poll := cfg.AbortTimeout / 10
	if poll < 100*time.Millisecond {
		poll = 100 * time.Millisecond
	}
	return abort.New(cp, notifier, http.DefaultClient, cfg.AbortTimeout, poll)
}
