// Package telemetry provides logging, tracing, metrics and events for sasscfg.
//
// The package integrates structured logging (zerolog), tracing
// (OpenTelemetry), metrics (Prometheus), and event publishing. The config
// and policy packages stay free of it; callers wrap their operations with the
// Track helpers, which do nothing unless a Telemetry value is in the context.
//
// # Usage
//
//	cfg := telemetry.DefaultConfig()
//	cfg.Logging.Level = "debug"
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	ctx = tel.WithContext(ctx)
//
//	lc, err := telemetry.TrackLoad(ctx, path, func(ctx context.Context) (*config.LoadedConfig, error) {
//	    return loader.Load(ctx, path)
//	})
//
// # Structured Logging
//
//	logger := tel.Logger.NewComponentLogger("watch")
//	logger.WithSource(path).WithDigest(lc.Digest).Info("Settings reloaded")
//
// Logs always go to stderr unless an output file is configured, so rendered
// settings on stdout stay machine readable.
//
// # Tracing
//
// Spans are named config.load, policy.evaluate and snapshot.<operation>.
// The exporter is one of otlp (gRPC), stdout (written to stderr) or none.
//
// # Metrics
//
// All metrics use the sasscfg namespace:
//
//   - config_loads_total{format,status}
//   - config_load_duration_seconds{format}
//   - config_diagnostics_total{severity}
//   - config_last_load_timestamp_seconds
//   - policy_evaluations_total{allowed}
//   - policy_violations_total{policy,severity}
//   - policy_evaluation_duration_seconds
//   - watch_reloads_total{status}
//   - snapshots_total{operation,status}
//   - drift_checks_total{drifted}
//   - drifted_keys
//
// The watch command serves them with Metrics.StartMetricsServer when given a
// listen address.
//
// # Events
//
//	tel.Events.Subscribe(func(e telemetry.Event) {
//	    fmt.Println(e.Type, e.Path, e.Message)
//	}, telemetry.FilterByLevel(telemetry.EventLevelWarning))
//
// Event types are config.loaded, config.invalid, config.reloaded,
// drift.detected, policy.violation and snapshot.saved. Synchronous publishers
// deliver inline; asynchronous ones batch events and deliver on a flush tick.
package telemetry
