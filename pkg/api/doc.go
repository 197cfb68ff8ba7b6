/*
Package api implements the Orchestration-Controls API binding (spec.md
§4.9, §6): the HTTP surface a replica exposes over its own subsystems
(pkg/service, pkg/controller, pkg/storage, pkg/notify).

It is built on go-chi/chi/v5, the router shared by jordigilh-kubernaut
and r3e-network-service_layer — the two other example repos exposing an
equivalent job/remediation HTTP surface. Where spec.md leaves the web
framework out of scope, the routes it does specify (Orchestration-
Controls, service-level, KV-Store middleware, Notification) are this
package's own surface.

# Route groups

  - §6.1 Orchestration-Controls: GET/PUT/POST/DELETE /orchestration,
    plus the private worker-facing wire routes under /orchestration/*
    that pkg/controller.HTTPController dials as a remote Controller.
  - §6.2 Service-level: POST /{job}, GET /report, GET /progress,
    DELETE /{job}.
  - §6.3 KV-Store middleware: GET/POST/DELETE /db/{key}, POST /db,
    OPTIONS /db, GET /db.
  - §6.4 Notification: POST /registration, DELETE /registration,
    POST /subscription, POST /notify.

Health and metrics endpoints (/health, /ready, /live, /metrics) round
out the ambient surface, adapted from the teacher's health.go and
pkg/metrics' prometheus handlers.
*/
package api
