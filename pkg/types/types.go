package types

import (
	"encoding/json"
	"strconv"
	"time"
)

// Token uniquely identifies a job across its entire lifecycle. It is the
// primary key in the Queue, the Registry, and every log line that
// mentions the job.
type Token struct {
	Value     string    `json:"value"`
	Expires   bool      `json:"expires"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// String returns the token's bare value, so a Token can be used directly
// as a map key or log field.
func (t Token) String() string {
	return t.Value
}

// JobConfig is the immutable payload a caller submits. Once enqueued it
// is never mutated; only JobInfo changes as the job progresses.
type JobConfig struct {
	OriginalBody json.RawMessage   `json:"original_body"`
	RequestBody  json.RawMessage   `json:"request_body"`
	Properties   map[string]string `json:"properties"`
	Token        Token             `json:"token"`

	// JobName selects the registered callable from the dispatch table
	// (pkg/jobs). It is not part of the spec's JobConfig schema but is
	// required to route a submission to code; it is set from the {job}
	// path parameter of the service-level submit route, or from
	// service.SubmitRequest.JobName.
	JobName string `json:"job_name"`

	// CallbackURL, if set, receives a POST with the JobToken on
	// termination (spec.md §6.2).
	CallbackURL string `json:"callback_url,omitempty"`
}

// JobStatus is the coarse lifecycle state of a job.
type JobStatus string

const (
	StatusQueued    JobStatus = "queued"
	StatusRunning   JobStatus = "running"
	StatusAborted   JobStatus = "aborted"
	StatusCompleted JobStatus = "completed"
)

// Progress is the cheap, frequently-polled view of a job's state.
type Progress struct {
	Status  JobStatus `json:"status"`
	Verbose string    `json:"verbose,omitempty"`
	Numeric int       `json:"numeric"` // 0-100
}

// LogCategory classifies a LogMessage for filtering and display.
type LogCategory string

const (
	LogError          LogCategory = "ERROR"
	LogWarning        LogCategory = "WARNING"
	LogInfo           LogCategory = "INFO"
	LogEvent          LogCategory = "EVENT"
	LogNetwork        LogCategory = "NETWORK"
	LogFileSystem     LogCategory = "FILE_SYSTEM"
	LogStartup        LogCategory = "STARTUP"
	LogShutdown       LogCategory = "SHUTDOWN"
	LogUser           LogCategory = "USER"
	LogAuthentication LogCategory = "AUTHENTICATION"
	LogSecurity       LogCategory = "SECURITY"
)

// LogMessage is a single structured log line attached to a Report.
type LogMessage struct {
	DateTime time.Time `json:"datetime"`
	Origin   string    `json:"origin"`
	Body     string    `json:"body"`
}

// ReportIdentifier addresses a child report within a parent's Children
// map. It matches [0-9a-zA-Z_-]+@[0-9a-zA-Z_-]+ (token@host).
type ReportIdentifier string

// Report is the append-only structured result of a job: its logs,
// progress, arbitrary output data, and any child-job reports nested
// under it. A Report has exactly one writer (the worker executing the
// job); every other reader sees a copy taken at flush time.
type Report struct {
	Host     string                          `json:"host"`
	Token    string                          `json:"token"`
	Args     json.RawMessage                 `json:"args,omitempty"`
	Progress Progress                        `json:"progress"`
	Log      map[LogCategory][]LogMessage    `json:"log"`
	Data     json.RawMessage                 `json:"data,omitempty"`
	Children map[ReportIdentifier]*Report    `json:"children,omitempty"`
}

// NewReport returns a Report with an initialized, empty Log map so
// callers can append without a nil check.
func NewReport(host, token string) *Report {
	return &Report{
		Host:     host,
		Token:    token,
		Log:      make(map[LogCategory][]LogMessage),
		Children: make(map[ReportIdentifier]*Report),
	}
}

// Append adds a log line under category, stamping DateTime if unset.
func (r *Report) Append(category LogCategory, origin, body string) {
	msg := LogMessage{DateTime: time.Now(), Origin: origin, Body: body}
	r.Log[category] = append(r.Log[category], msg)
}

// WorkerID identifies a worker slot within a replica. It is the lease
// owner recorded against a token in the Queue and Registry.
type WorkerID struct {
	ReplicaID string `json:"replica_id"`
	Slot      int    `json:"slot"`
}

// String renders a WorkerID as "replica/slot" for logging and as the
// lease-owner value stored alongside a lease.
func (w WorkerID) String() string {
	return w.ReplicaID + "/" + strconv.Itoa(w.Slot)
}

// QueueEntry wraps a JobConfig with queue-level bookkeeping: when it was
// enqueued, who currently leases it (if anyone), and how many times it
// has been re-queued after a failed attempt.
type QueueEntry struct {
	Token          Token      `json:"token"`
	Config         JobConfig  `json:"config"`
	EnqueuedAt     time.Time  `json:"enqueued_at"`
	LeaseOwner     *WorkerID  `json:"lease_owner,omitempty"`
	LeaseID        string     `json:"lease_id,omitempty"`
	LeaseExpiresAt *time.Time `json:"lease_expires_at,omitempty"`
	RequeueCount   int        `json:"requeue_count"`
}

// Leased reports whether the entry currently has a non-expired lease.
func (q *QueueEntry) Leased(now time.Time) bool {
	return q.LeaseExpiresAt != nil && q.LeaseExpiresAt.After(now)
}

// JobInfo is the Registry's record for a token: its current status,
// report, and the lease metadata of whichever worker owns it. Only the
// worker holding the lease may mutate it, except for the abort flag
// which any replica may set.
type JobInfo struct {
	Token          Token      `json:"token"`
	Host           string     `json:"host"`
	Config         JobConfig  `json:"config"`
	Progress       Progress   `json:"progress"`
	Report         *Report    `json:"report"`
	Status         JobStatus  `json:"status"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	UpdatedAt      time.Time  `json:"updated_at"`
	Owner          *WorkerID  `json:"owner,omitempty"`
	LeaseID        string     `json:"lease_id,omitempty"`
	LeaseExpiresAt *time.Time `json:"lease_expires_at,omitempty"`
	AbortRequested bool       `json:"abort_requested"`
}

// ChildJobRef addresses a child job by the host-qualified identifier the
// parent used to start it, rather than by object reference — so child
// cycles are impossible by construction.
type ChildJobRef struct {
	Token        string        `json:"token"`
	HostURL      string        `json:"host_url"`
	Timeout      time.Duration `json:"timeout"`
	LatestReport *Report       `json:"latest_report,omitempty"`
}

// Subscriber is a notification-service registration: a token paired
// with the base URL the service broadcasts callback requests to.
type Subscriber struct {
	Token   string `json:"token"`
	BaseURL string `json:"base_url"`
}

// JobToken is the minimal payload returned to callers on submit and
// delivered to CallbackURL on termination.
type JobToken struct {
	Token Token `json:"token"`
}
