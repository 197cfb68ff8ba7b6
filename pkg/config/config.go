// Package config loads orchestra's environment-variable surface
// (spec.md §6.5) into a typed Config, grounded on
// r3e-network-service_layer/pkg/config's envdecode-based New()/Load()
// pattern — warren itself has no env-var config layer to draw from, only
// cobra flags (cmd/warren/main.go). No CLI flag overrides a field of
// what Load returns; cmd/orchestra's --log-level flag is applied to
// logging directly, outside this package.
package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
)

// ControllerArgs is the JSON blob carried by ORCHESTRA_CONTROLLER_ARGS,
// shaped differently depending on Controller.
type ControllerArgs struct {
	// DataSource is the sqlite dialect's DSN/file path.
	DataSource string `json:"dataSource"`
	// BaseURL is the http dialect's remote Controller root (bare, no
	// /orchestration suffix — see controller.HTTPController.do).
	BaseURL string `json:"baseUrl"`
	// LeaseTTL governs the sqlite dialect's queue lease duration.
	LeaseTTL time.Duration `json:"leaseTtl"`
	// MaxRequeues bounds the sqlite dialect's requeue_count column.
	MaxRequeues int `json:"maxRequeues"`
	// Timeout, MaxRetries, RetryInterval govern the http dialect's client.
	Timeout       time.Duration `json:"timeout"`
	MaxRetries    int           `json:"maxRetries"`
	RetryInterval time.Duration `json:"retryInterval"`
}

// WorkerArgs is the JSON blob carried by ORCHESTRA_WORKER_ARGS.
type WorkerArgs struct {
	RefreshInterval time.Duration `json:"refreshInterval"`
	ProcessTimeout  time.Duration `json:"processTimeout"`
	AbortGrace      time.Duration `json:"abortGrace"`
}

// Config is orchestra's complete environment-derived configuration,
// covering every var in spec.md §6.5.
type Config struct {
	WorkerPoolSize  int           `env:"ORCHESTRA_WORKER_POOL_SIZE"`
	AtStartup       bool          `env:"ORCHESTRA_AT_STARTUP"`
	WorkerInterval  time.Duration `env:"ORCHESTRA_WORKER_INTERVAL"`
	DaemonInterval  time.Duration `env:"ORCHESTRA_DAEMON_INTERVAL"`
	Controller      string        `env:"ORCHESTRA_CONTROLLER"`
	AbortTimeout    time.Duration `env:"ORCHESTRA_ABORT_TIMEOUT"`
	LogLevel        string        `env:"ORCHESTRA_LOGLEVEL"`
	MPMethod        string        `env:"ORCHESTRA_MP_METHOD"`
	FSMountPoint    string        `env:"FS_MOUNT_POINT"`
	AllowCORS       bool          `env:"ALLOW_CORS"`

	// ControllerArgsRaw/WorkerArgsRaw hold the undecoded JSON so Load can
	// report a decode error with the offending var name; ControllerArgs/
	// WorkerArgs hold the unmarshaled struct envdecode can't populate on
	// its own since it only binds scalar-tagged fields.
	ControllerArgsRaw string `env:"ORCHESTRA_CONTROLLER_ARGS"`
	WorkerArgsRaw     string `env:"ORCHESTRA_WORKER_ARGS"`

	ControllerArgs ControllerArgs
	WorkerArgs     WorkerArgs
}

// New returns a Config populated with the documented defaults from
// spec.md §6.5, before any environment override is applied.
func New() *Config {
	return &Config{
		WorkerPoolSize: 4,
		AtStartup:      true,
		WorkerInterval: 2 * time.Second,
		DaemonInterval: 30 * time.Second,
		Controller:     "sqlite",
		AbortTimeout:   10 * time.Second,
		LogLevel:       "info",
		MPMethod:       "spawn",
		FSMountPoint:   "./data",
		AllowCORS:      false,
		ControllerArgs: ControllerArgs{
			DataSource:    "./data/orchestra.db",
			LeaseTTL:      30 * time.Second,
			MaxRequeues:   3,
			Timeout:       10 * time.Second,
			MaxRetries:    3,
			RetryInterval: time.Second,
		},
		WorkerArgs: WorkerArgs{
			RefreshInterval: 10 * time.Second,
			ProcessTimeout:  5 * time.Minute,
			AbortGrace:      5 * time.Second,
		},
	}
}

// Load starts from New's defaults and applies environment overrides via
// envdecode, then unmarshals ORCHESTRA_CONTROLLER_ARGS/ORCHESTRA_WORKER_ARGS
// (JSON, not envdecode-scalar) into their typed sub-structs.
func Load() (*Config, error) {
	cfg := New()

	if err := envdecode.Decode(cfg); err != nil {
		// envdecode errors when none of its tagged fields are present in
		// the environment; that's the common "use the defaults" case.
		if !strings.Contains(err.Error(), "none of the target fields were set") {
			return nil, fmt.Errorf("config: decode env: %w", err)
		}
	}

	if raw := strings.TrimSpace(cfg.ControllerArgsRaw); raw != "" {
		if err := json.Unmarshal([]byte(raw), &cfg.ControllerArgs); err != nil {
			return nil, fmt.Errorf("config: decode ORCHESTRA_CONTROLLER_ARGS: %w", err)
		}
	}
	if raw := strings.TrimSpace(cfg.WorkerArgsRaw); raw != "" {
		if err := json.Unmarshal([]byte(raw), &cfg.WorkerArgs); err != nil {
			return nil, fmt.Errorf("config: decode ORCHESTRA_WORKER_ARGS: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects a Config with an out-of-domain enum field, matching
// the domains spec.md §6.5 documents for ORCHESTRA_CONTROLLER and
// ORCHESTRA_LOGLEVEL.
func (c *Config) Validate() error {
	switch c.Controller {
	case "sqlite", "http":
	default:
		return fmt.Errorf("config: ORCHESTRA_CONTROLLER must be sqlite or http, got %q", c.Controller)
	}
	switch c.LogLevel {
	case "none", "error", "info", "debug":
	default:
		return fmt.Errorf("config: ORCHESTRA_LOGLEVEL must be one of none/error/info/debug, got %q", c.LogLevel)
	}
	return nil
}
