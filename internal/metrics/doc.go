// Package metrics records backup run metrics.
//
// Components receive a Recorder and default to NoopRecorder, so metrics never
// need nil checks at call sites. When a textfile path is configured the run
// uses a PrometheusRecorder and writes its registry at the end of the run for
// the node_exporter textfile collector:
//
//	rec := metrics.NewPrometheusRecorder(nil)
//	runner := backup.NewRunner(cfg, backup.WithRecorder(rec))
//	...
//	_ = rec.WriteTextfile(cfg.Metrics.Textfile)
package metrics
