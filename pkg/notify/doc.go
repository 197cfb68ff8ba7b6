// Package notify implements the Notification service (spec.md §6.4):
// registration of subscriber base URLs, per-topic subscription, and a
// synchronous broadcast that revokes any subscriber whose delivery
// fails. pkg/abort's cross-replica abort path rides on this package's
// "abort" topic.
package notify
