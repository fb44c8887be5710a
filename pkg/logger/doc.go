// Package logger provides the structured logging interface used across
// apiflow.
//
// It wraps zerolog. Every request pipeline, retry policy and waiter takes a
// Logger so that embedding applications can route records into their own
// sink, and tests can capture them with NewTestLogger.
//
// Basic usage:
//
//	cfg := &config.LoggingConfig{Level: "debug"}
//	if err := logger.Initialize(cfg); err != nil {
//	    return err
//	}
//	log := logger.GetLogger().WithField("service", "dynamodb")
//	log.InfoWithFields("request sent", map[string]interface{}{
//	    "operation": "DescribeTable",
//	    "attempt":   1,
//	})
//
// Console output goes to stderr. When LoggingConfig.File is set, records are
// appended to that file as JSON lines.
package logger
