// Package logging builds the relay's slog logger.
//
// The logger writes JSON or text and wraps the handler with one that
//   - adds request_id, backend and model stored in the context, and
//   - masks credential material: values under keys such as token, cookie
//     or authorization, and bearer tokens, JWTs and session cookies
//     anywhere in a string.
//
// # Usage
//
//	logger, err := logging.New(cfg.Telemetry.Logging, nil)
//	if err != nil {
//	    return err
//	}
//	slog.SetDefault(logger)
//
//	ctx = logging.WithRequestID(ctx, id)
//	slog.InfoContext(ctx, "request dispatched", "authorization", header)
package logging
