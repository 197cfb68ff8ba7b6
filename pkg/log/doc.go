/*
Package log provides structured logging for orchestra using zerolog.

It wraps zerolog with a single global Logger, component-scoped child
loggers, and a Level type that matches ORCHESTRA_LOGLEVEL exactly
(including "none" to disable logging entirely).

# Usage

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})
	log.Info("controller started")

	workerLog := log.WithWorker(workerID.String())
	workerLog.Info().Str("token", token).Msg("lease acquired")

# Context loggers

  - WithComponent: tag logs with a subsystem name (controller, worker, api)
  - WithToken: tag logs with the job token they concern
  - WithWorker: tag logs with the worker slot that emitted them
*/
package log
