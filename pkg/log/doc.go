/*
Package log provides structured logging for WebPods using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging
with component-specific loggers, configurable log levels, and helper functions
for common logging patterns. All logs include timestamps and support filtering
by severity level for production debugging.

# Usage

Initializing the logger:

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

Simple logging:

	log.Info("server started")
	log.Error("append failed")

Structured logging:

	log.Logger.Info().
		Str("pod", "alice").
		Str("stream_path", "/blog/posts").
		Int64("index", 7).
		Msg("record appended")

Context loggers:

	srvLog := log.WithComponent("server")
	srvLog.Info().Msg("listening on :3000")

	streamLog := log.WithStream("alice", "/blog/posts")
	streamLog.Debug().Msg("cache invalidated")

Never log record payloads or bearer tokens; log names, paths, hashes and
sizes instead.
*/
package log
