package api

import (
	"encoding/json"

	"github.com/cuemby/orchestra/pkg/types"
)

// The wire types below mirror pkg/controller's private /orchestration/*
// request and response shapes exactly (same JSON field names), so a
// replica's HTTPController can dial another replica's api.Server as a
// remote Controller dialect (spec.md §4.5, §6.1). They are declared
// independently rather than imported, since pkg/controller keeps them
// unexported as its own implementation detail.

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

// wireError is the body every non-2xx response carries, letting a
// remote HTTPController reconstruct an orcherr.Kind from the HTTP hop.
type wireError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// kvEntry mirrors storage.HTTPStore's private httpEntry wire shape for
// the KV-Store middleware (spec.md §6.3).
type kvEntry struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}
