// Package daemon implements the generic supervised-loop primitive
// spec.md §4.6 describes: run a callable at most every interval,
// restart it (rather than let it take the process down) on panic or
// error, and support a graceful, optionally blocking stop.
package daemon
