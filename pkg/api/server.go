package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/cuemby/orchestra/pkg/abort"
	"github.com/cuemby/orchestra/pkg/controller"
	"github.com/cuemby/orchestra/pkg/daemon"
	"github.com/cuemby/orchestra/pkg/metrics"
	"github.com/cuemby/orchestra/pkg/notify"
	"github.com/cuemby/orchestra/pkg/orcherr"
	"github.com/cuemby/orchestra/pkg/service"
	"github.com/cuemby/orchestra/pkg/storage"
	"github.com/cuemby/orchestra/pkg/types"
	"github.com/cuemby/orchestra/pkg/worker"
)

// statusReporter is implemented by Controller dialects that can
// introspect their own backend's Queue/Registry sizes and running
// tokens (currently only SQLiteController; HTTPController cannot
// introspect a peer's local state without a dedicated route this spec
// does not define).
type statusReporter interface {
	Status() (queueSize, registrySize int, running []string, err error)
}

// Config wires an api.Server to the subsystems it fronts. Pool and
// ControllerDaemon are optional: the routes that read them check for
// nil. Adapter, Notifier and KV are used without a nil check, so a
// Server built without one of them fails on the routes that use it.
type Config struct {
	ControlPlane     controller.ControlPlane
	Adapter          *service.Adapter
	AbortCoord       *abort.Coordinator
	Notifier         *notify.Service
	KV               storage.Store
	Pool             *worker.Pool
	ControllerDaemon *daemon.Daemon
	Host             string
	AllowCORS        bool
}

// Server is the Orchestration-Controls API binding (spec.md §4.9): a
// chi.Mux exposing every route in §6.1-§6.4 over the subsystems in
// Config.
type Server struct {
	router       *chi.Mux
	controlPlane controller.ControlPlane
	adapter      *service.Adapter
	abortCoord   *abort.Coordinator
	notifier     *notify.Service
	kv           storage.Store
	pool         *worker.Pool
	ctrlDaemon   *daemon.Daemon
	host         string
}

// New builds a Server and mounts every route.
func New(cfg Config) *Server {
	s := &Server{
		controlPlane: cfg.ControlPlane,
		adapter:      cfg.Adapter,
		abortCoord:   cfg.AbortCoord,
		notifier:     cfg.Notifier,
		kv:           cfg.KV,
		pool:         cfg.Pool,
		ctrlDaemon:   cfg.ControllerDaemon,
		host:         cfg.Host,
	}

	r := chi.NewRouter()
	r.Use(recoverer, requestLogger, cors(cfg.AllowCORS))

	r.Get("/health", s.healthHandler)
	r.Get("/ready", s.readyHandler)
	r.Get("/live", metrics.LivenessHandler())
	r.Handle("/metrics", metrics.Handler())

	r.Route("/orchestration", func(r chi.Router) {
		r.Get("/", s.getOrchestration)
		r.Put("/", s.putOrchestration)
		r.Post("/", s.postOrchestration)
		r.Delete("/", s.deleteOrchestration)

		// Private worker-facing wire routes (spec.md §4.5's "Operations
		// exposed to Workers", translated into HTTP here since the
		// source spec leaves that translation as an implementation
		// detail). pkg/controller.HTTPController dials these.
		r.Post("/submit", s.wireSubmit)
		r.Get("/job", s.wireGetJob)
		r.Post("/lease", s.wireLease)
		r.Post("/refresh", s.wireRefresh)
		r.Post("/progress", s.wireUpdateProgress)
		r.Post("/complete", s.wireComplete)
		r.Post("/fail", s.wireFail)
		r.Post("/requeue", s.wireRequeue)
		r.Get("/abort_requested", s.wireAbortRequested)
		r.Post("/abort_mark", s.wireAbortMark)
	})

	r.Route("/db", func(r chi.Router) {
		r.Post("/", s.kvAutoCreate)
		r.Get("/", s.kvNext)
		r.Options("/", s.kvKeys)
		r.Get("/{key}", s.kvRead)
		r.Post("/{key}", s.kvWrite)
		r.Delete("/{key}", s.kvDelete)
	})

	r.Post("/registration", s.postRegistration)
	r.Delete("/registration", s.deleteRegistration)
	r.Post("/subscription", s.postSubscription)
	r.Post("/notify", s.postNotify)

	r.Get("/report", s.getReport)
	r.Get("/progress", s.getProgress)
	r.Post("/{job}", s.postJob)
	r.Delete("/{job}", s.deleteJob)

	s.router = r
	return s
}

// Router returns the assembled http.Handler, for tests and for
// embedding under an outer mux.
func (s *Server) Router() http.Handler { return s.router }

// ListenAndServe starts the HTTP listener, adapted from the teacher's
// HealthServer.Start timeouts.
func (s *Server) ListenAndServe(addr string) error {
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return httpServer.ListenAndServe()
}

func writeErr(w http.ResponseWriter, err error) {
	kind, _ := orcherr.As(err)
	writeJSON(w, orcherr.HTTPStatus(err), wireError{Kind: string(kind), Message: err.Error()})
}

func readJSON(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func queryBool(r *http.Request, key string, def bool) bool {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return b
}

// --- §6.1 Orchestration-Controls ---

type orchestrationStatus struct {
	Queue struct {
		Size int `json:"size"`
	} `json:"queue"`
	Registry struct {
		Size int `json:"size"`
	} `json:"registry"`
	Orchestrator struct {
		Ready   int      `json:"ready"`
		Idle    int      `json:"idle"`
		Running int      `json:"running"`
		Jobs    []string `json:"jobs"`
	} `json:"orchestrator"`
	Daemon struct {
		Active bool   `json:"active"`
		Status string `json:"status"`
	} `json:"daemon"`
}

func (s *Server) getOrchestration(w http.ResponseWriter, r *http.Request) {
	var resp orchestrationStatus

	if reporter, ok := s.controlPlane.(statusReporter); ok {
		if queueSize, registrySize, _, err := reporter.Status(); err == nil {
			resp.Queue.Size = queueSize
			resp.Registry.Size = registrySize
		}
	}

	if s.pool != nil {
		slots, busy, jobs := s.pool.Status()
		resp.Orchestrator.Ready = slots
		resp.Orchestrator.Idle = slots - busy
		resp.Orchestrator.Running = busy
		resp.Orchestrator.Jobs = jobs
	}

	if s.ctrlDaemon != nil {
		active, running := s.ctrlDaemon.Status()
		resp.Daemon.Active = active
		if running {
			resp.Daemon.Status = "running"
		} else {
			resp.Daemon.Status = "stopped"
		}
	} else {
		resp.Daemon.Status = "not configured"
	}

	writeJSON(w, http.StatusOK, resp)
}

// reconfigureBody is the PUT /orchestration payload (spec.md §6.1).
// Only daemon.interval is actionable: pkg/worker.Pool has no live
// interval setter, so orchestrator.interval is accepted but not
// applied — a deployment that needs it restarts the worker replica.
type reconfigureBody struct {
	Orchestrator *struct {
		Interval string `json:"interval"`
		Daemon   bool   `json:"daemon"`
	} `json:"orchestrator"`
	Daemon *struct {
		Interval string `json:"interval"`
	} `json:"daemon"`
}

func (s *Server) putOrchestration(w http.ResponseWriter, r *http.Request) {
	var body reconfigureBody
	if err := readJSON(r, &body); err != nil {
		writeErr(w, orcherr.New(orcherr.BadRequest, err))
		return
	}

	if body.Daemon == nil {
		w.WriteHeader(http.StatusOK)
		return
	}
	if s.ctrlDaemon == nil {
		writeErr(w, orcherr.New(orcherr.BackendUnavailable, errors.New("no daemon configured for live reconfiguration")))
		return
	}
	interval, err := time.ParseDuration(body.Daemon.Interval)
	if err != nil {
		writeErr(w, orcherr.New(orcherr.BadRequest, err))
		return
	}

	untilIdle := queryBool(r, "until-idle", false)
	_, running := s.ctrlDaemon.Status()
	isDaemon := running
	s.ctrlDaemon.Stop(untilIdle)
	s.ctrlDaemon.Start(interval, isDaemon)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) postOrchestration(w http.ResponseWriter, r *http.Request) {
	var cfg types.JobConfig
	if err := readJSON(r, &cfg); err != nil {
		writeErr(w, orcherr.New(orcherr.BadRequest, err))
		return
	}
	if cfg.Token.Value == "" {
		cfg.Token = types.Token{Value: uuid.NewString()}
	}
	if err := s.controlPlane.Submit(r.Context(), cfg, s.host); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.JobToken{Token: cfg.Token})
}

type deleteOrchestrationBody struct {
	Mode    string `json:"mode"`
	Options struct {
		Token   string `json:"token"`
		Reason  string `json:"reason"`
		Origin  string `json:"origin"`
		Block   bool   `json:"block"`
		Requeue bool   `json:"re_queue"`
	} `json:"options"`
}

func (s *Server) deleteOrchestration(w http.ResponseWriter, r *http.Request) {
	var body deleteOrchestrationBody
	if err := readJSON(r, &body); err != nil {
		writeErr(w, orcherr.New(orcherr.BadRequest, err))
		return
	}

	switch body.Mode {
	case "abort":
		if body.Options.Token == "" {
			writeErr(w, orcherr.New(orcherr.BadRequest, errors.New("options.token is required for mode=abort")))
			return
		}
		result, err := s.abortCoord.Abort(r.Context(), body.Options.Token, abort.Options{
			Block:   body.Options.Block,
			Requeue: body.Options.Requeue,
			Origin:  body.Options.Origin,
			Reason:  body.Options.Reason,
		})
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	case "stop", "kill":
		if s.pool != nil {
			go s.pool.Stop()
		}
		if s.ctrlDaemon != nil {
			s.ctrlDaemon.Stop(false)
		}
		w.WriteHeader(http.StatusOK)
	default:
		writeErr(w, orcherr.New(orcherr.BadRequest, fmt.Errorf("unknown mode %q", body.Mode)))
	}
}

// --- private worker-facing wire routes ---

func (s *Server) wireSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := readJSON(r, &req); err != nil {
		writeErr(w, orcherr.New(orcherr.BadRequest, err))
		return
	}
	if err := s.controlPlane.Submit(r.Context(), req.Config, req.Host); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) wireGetJob(w http.ResponseWriter, r *http.Request) {
	info, err := s.controlPlane.Get(r.Context(), r.URL.Query().Get("token"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) wireLease(w http.ResponseWriter, r *http.Request) {
	var req leaseRequest
	if err := readJSON(r, &req); err != nil {
		writeErr(w, orcherr.New(orcherr.BadRequest, err))
		return
	}
	entry, info, err := s.controlPlane.Lease(r.Context(), req.Owner)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, leaseResponse{Entry: entry, Info: info})
}

func (s *Server) wireRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := readJSON(r, &req); err != nil {
		writeErr(w, orcherr.New(orcherr.BadRequest, err))
		return
	}
	if err := s.controlPlane.Refresh(r.Context(), req.Token, req.LeaseID); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) wireUpdateProgress(w http.ResponseWriter, r *http.Request) {
	var req progressRequest
	if err := readJSON(r, &req); err != nil {
		writeErr(w, orcherr.New(orcherr.BadRequest, err))
		return
	}
	if err := s.controlPlane.UpdateProgress(r.Context(), req.Token, req.LeaseID, req.Progress, req.Report); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) wireComplete(w http.ResponseWriter, r *http.Request) {
	var req terminateRequest
	if err := readJSON(r, &req); err != nil {
		writeErr(w, orcherr.New(orcherr.BadRequest, err))
		return
	}
	if err := s.controlPlane.Complete(r.Context(), req.Token, req.LeaseID, req.Report); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) wireFail(w http.ResponseWriter, r *http.Request) {
	var req terminateRequest
	if err := readJSON(r, &req); err != nil {
		writeErr(w, orcherr.New(orcherr.BadRequest, err))
		return
	}
	if err := s.controlPlane.Fail(r.Context(), req.Token, req.LeaseID, req.Report); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) wireRequeue(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := readJSON(r, &req); err != nil {
		writeErr(w, orcherr.New(orcherr.BadRequest, err))
		return
	}
	if err := s.controlPlane.Requeue(r.Context(), req.Token, req.LeaseID); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) wireAbortRequested(w http.ResponseWriter, r *http.Request) {
	requested, err := s.controlPlane.AbortRequested(r.Context(), r.URL.Query().Get("token"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, abortRequestedResponse{AbortRequested: requested})
}

func (s *Server) wireAbortMark(w http.ResponseWriter, r *http.Request) {
	var req terminateRequest
	if err := readJSON(r, &req); err != nil {
		writeErr(w, orcherr.New(orcherr.BadRequest, err))
		return
	}
	if err := s.controlPlane.RequestAbort(r.Context(), req.Token); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// --- §6.2 Service-level endpoints ---

func (s *Server) getReport(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	report, err := s.adapter.GetReport(r.Context(), token)
	if err != nil {
		writeErr(w, err)
		return
	}
	if report == nil {
		writeErr(w, orcherr.New(orcherr.UnknownToken, fmt.Errorf("no report yet for token %s", token)))
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) getProgress(w http.ResponseWriter, r *http.Request) {
	progress, err := s.adapter.Poll(r.Context(), r.URL.Query().Get("token"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

func extractCallbackURL(body []byte) string {
	var probe struct {
		CallbackURL string `json:"callbackUrl"`
	}
	_ = json.Unmarshal(body, &probe)
	return probe.CallbackURL
}

func (s *Server) postJob(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeErr(w, orcherr.New(orcherr.BadRequest, err))
		return
	}
	token, err := s.adapter.Submit(r.Context(), service.SubmitRequest{
		JobName:      chi.URLParam(r, "job"),
		OriginalBody: body,
		CallbackURL:  extractCallbackURL(body),
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, types.JobToken{Token: token})
}

func (s *Server) deleteJob(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Origin string `json:"origin"`
		Reason string `json:"reason"`
	}
	if err := readJSON(r, &body); err != nil {
		writeErr(w, orcherr.New(orcherr.BadRequest, err))
		return
	}

	result, err := s.abortCoord.Abort(r.Context(), r.URL.Query().Get("token"), abort.Options{
		Requeue:       queryBool(r, "re-queue", false),
		Origin:        body.Origin,
		Reason:        body.Reason,
		SkipBroadcast: !queryBool(r, "broadcast", true),
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// --- §6.3 Key-Value-Store middleware ---

func (s *Server) kvWrite(w http.ResponseWriter, r *http.Request) {
	var entry kvEntry
	if err := readJSON(r, &entry); err != nil {
		writeErr(w, orcherr.New(orcherr.BadRequest, err))
		return
	}
	var ttl time.Duration
	if raw := r.URL.Query().Get("ttl"); raw != "" {
		var err error
		ttl, err = time.ParseDuration(raw)
		if err != nil {
			writeErr(w, orcherr.New(orcherr.BadRequest, err))
			return
		}
	}
	key := chi.URLParam(r, "key")
	if err := s.kv.Write(key, entry.Value, ttl); err != nil {
		writeErr(w, orcherr.New(orcherr.BackendUnavailable, err))
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) kvRead(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	val, err := s.kv.Read(key, queryBool(r, "pop", false))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeErr(w, orcherr.New(orcherr.UnknownToken, err))
			return
		}
		writeErr(w, orcherr.New(orcherr.BackendUnavailable, err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(val)
}

func (s *Server) kvDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.kv.Delete(chi.URLParam(r, "key")); err != nil {
		writeErr(w, orcherr.New(orcherr.BackendUnavailable, err))
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) kvKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := s.kv.Keys()
	if err != nil {
		writeErr(w, orcherr.New(orcherr.BackendUnavailable, err))
		return
	}
	writeJSON(w, http.StatusOK, keys)
}

func (s *Server) kvNext(w http.ResponseWriter, r *http.Request) {
	entry, err := s.kv.Next(queryBool(r, "pop", false))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeErr(w, orcherr.New(orcherr.UnknownToken, err))
			return
		}
		writeErr(w, orcherr.New(orcherr.BackendUnavailable, err))
		return
	}
	writeJSON(w, http.StatusOK, kvEntry{Key: entry.Key, Value: entry.Value})
}

func (s *Server) kvAutoCreate(w http.ResponseWriter, r *http.Request) {
	value, err := io.ReadAll(r.Body)
	if err != nil {
		writeErr(w, orcherr.New(orcherr.BadRequest, err))
		return
	}
	key := uuid.NewString()
	if err := s.kv.Write(key, value, 0); err != nil {
		writeErr(w, orcherr.New(orcherr.BackendUnavailable, err))
		return
	}
	writeJSON(w, http.StatusCreated, kvEntry{Key: key, Value: value})
}

// --- §6.4 Notification API ---

func (s *Server) postRegistration(w http.ResponseWriter, r *http.Request) {
	var body struct {
		BaseURL string `json:"baseUrl"`
	}
	if err := readJSON(r, &body); err != nil {
		writeErr(w, orcherr.New(orcherr.BadRequest, err))
		return
	}
	sub, err := s.notifier.Register(body.BaseURL)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (s *Server) deleteRegistration(w http.ResponseWriter, r *http.Request) {
	if err := s.notifier.Unregister(r.URL.Query().Get("token")); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) postSubscription(w http.ResponseWriter, r *http.Request) {
	err := s.notifier.Subscribe(r.URL.Query().Get("token"), r.URL.Query().Get("topic"))
	if err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type notifyResult struct {
	Token string `json:"token"`
	Error string `json:"error,omitempty"`
}

func (s *Server) postNotify(w http.ResponseWriter, r *http.Request) {
	var body struct {
		JSON    json.RawMessage   `json:"json"`
		Query   map[string]string `json:"query"`
		Headers map[string]string `json:"headers"`
		Skip    []string          `json:"skip"`
	}
	if err := readJSON(r, &body); err != nil {
		writeErr(w, orcherr.New(orcherr.BadRequest, err))
		return
	}

	results, err := s.notifier.Notify(r.Context(), r.URL.Query().Get("topic"), notify.Request{
		JSON:    body.JSON,
		Query:   body.Query,
		Headers: body.Headers,
		Skip:    body.Skip,
	})
	if err != nil {
		writeErr(w, err)
		return
	}

	out := make([]notifyResult, 0, len(results))
	for _, res := range results {
		nr := notifyResult{Token: res.Token}
		if res.Err != nil {
			nr.Error = res.Err.Error()
		}
		out = append(out, nr)
	}
	writeJSON(w, http.StatusOK, out)
}
