// Package metrics provides request metrics collection and reporting.
//
// Metrics collects statistics about request latency, success/failure rates,
// status codes and throughput (RPS) for one named action. A Registry keeps
// one Metrics per action plus an aggregate total, and an optional Exporter
// mirrors every recorded request into Prometheus collectors.
//
// # Basic Usage
//
//	r := metrics.NewRegistry()
//
//	start := time.Now()
//	// ... do work ...
//	r.Record("Check Balance", true, 200, time.Since(start))
//
//	for _, snap := range r.Snapshots() {
//	    fmt.Printf("%s: %d req, P95 %v\n", snap.Name, snap.TotalRequests, snap.P95Latency)
//	}
//
// # Prometheus
//
//	exp := metrics.NewExporter()
//	r.SetExporter(exp)
//	http.Handle("/metrics", exp.Handler())
//
// # Thread Safety
//
// Counters are atomic; latency samples and status counts are guarded by a
// RWMutex. All operations are safe for concurrent access.
package metrics
