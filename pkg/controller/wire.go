package controller

import (
	"github.com/cuemby/orchestra/pkg/types"
)

// The wire types below are HTTPController's private extension of
// spec.md §6.1's /orchestration namespace: the spec documents the
// operator-facing status/start/stop/kill surface but leaves the
// worker-facing lease/refresh/complete/fail/requeue calls ("Operations
// exposed to Workers", spec.md §4.5) as an implementation detail of
// "translating the same operations into HTTP calls". pkg/api mounts
// these same routes on an orchestra replica acting as a remote
// Controller for other replicas.

type leaseRequest struct {
	Owner types.WorkerID `json:"owner"`
}

type leaseResponse struct {
	Entry types.QueueEntry `json:"entry"`
	Info  types.JobInfo    `json:"info"`
}

type refreshRequest struct {
	Token   string `json:"token"`
	LeaseID string `json:"lease_id"`
}

type progressRequest struct {
	Token    string         `json:"token"`
	LeaseID  string         `json:"lease_id"`
	Progress types.Progress `json:"progress"`
	Report   *types.Report  `json:"report,omitempty"`
}

type terminateRequest struct {
	Token   string        `json:"token"`
	LeaseID string        `json:"lease_id"`
	Report  *types.Report `json:"report,omitempty"`
}

type abortRequestedResponse struct {
	AbortRequested bool `json:"abort_requested"`
}

type submitRequest struct {
	Config types.JobConfig `json:"config"`
	Host   string          `json:"host"`
}

// errorResponse mirrors the body orcherr-translated API errors return
// (pkg/api), so HTTPController can reconstruct an *orcherr.Error kind
// from a non-2xx response instead of only a bare status code.
type errorResponse struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}
