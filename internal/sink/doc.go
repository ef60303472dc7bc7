// Package sink persists run results to Redis.
//
// Each saved run is pushed as JSON onto a capped list (newest first) and its
// per-action request and failure counts are added to a hash of cumulative
// totals. The bankload history command reads both back.
//
//	s, err := sink.New(ctx, sink.Config{Addr: "127.0.0.1:6379"})
//	id, err := s.Save(ctx, result)
//	runs, err := s.Recent(ctx, 10)
package sink
