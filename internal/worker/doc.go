// Package worker provides a goroutine pool for concurrent job execution.
//
// The Pool manages a fixed number of worker goroutines that process jobs
// from a shared queue. The load engine sizes the pool to the number of
// simulated users, so each job is one user's whole session.
//
// # Basic Usage
//
//	pool := worker.NewPool(4) // 4 workers
//	pool.Start(ctx)
//	defer pool.Stop()
//
//	pool.Submit(func(ctx context.Context) {
//	    // do work until ctx is cancelled
//	})
//
// # Graceful Shutdown
//
// Stop() cancels the context handed to every job and waits for all
// in-flight jobs to return. A panicking job is recovered and counted.
package worker
