// Package logging is ragd's structured logger: zap with request correlation,
// secret redaction and level-aware sampling.
//
// Components below the HTTP layer take a plain *zap.Logger; hand them
// Logger.Zap() so their output passes through the same redaction and
// sampling as the server's.
//
//	logger, err := logging.New(logging.DefaultConfig(), nil)
//	if err != nil {
//	    return err
//	}
//	defer logger.Sync()
//
//	ctx = tenant.WithScope(ctx, scope)
//	logger.Info(ctx, "retrieval served", zap.Int("contexts", n))
//
// The entry carries tenant_id, project_id, request_id and, inside a sampled
// span, trace_id and span_id.
package logging
