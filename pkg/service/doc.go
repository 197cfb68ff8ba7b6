// Package service implements the ServiceAdapter (spec.md §4.8): the
// public contract higher-level services use to submit jobs, poll their
// state, and abort them, composing pkg/controller and pkg/abort the
// way warren/pkg/manager.Manager composes its own subsystems.
package service
