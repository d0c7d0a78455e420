// Package logging configures structured logging for rpx on top of log/slog.
//
// # Usage
//
//	logger, err := logging.Setup(logging.Config{
//	    Level:  "info",
//	    Format: "console",
//	})
//
//	ctx := logging.WithRequestID(ctx, "9b2d...")
//	logger.InfoContext(ctx, "request completed", "status", 200)
//	// level=INFO msg="request completed" status=200 request_id=9b2d...
//
// Formats: json (machine-readable), text (key=value with timestamps) and
// console (key=value without timestamps, the CLI default).
package logging
