// Package controller implements the two Controller dialects spec.md
// §4.5 allows: a local SQLite-backed one and a remote HTTP one over
// the Orchestration-Controls API (§6.1). Both satisfy pkg/worker's
// Controller interface plus the wider submit/get/abort surface that
// pkg/service needs.
package controller
