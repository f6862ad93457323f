// Package downloader runs batches of resumable transfers on a worker pool.
//
// Every job is an independent transfer from pkg/resume written to a
// sink.Sink. Each transfer retries and resumes on its own; the pool only
// decides which transfers run and when to give up on the batch.
//
// # Usage
//
//	err := downloader.Run(ctx, sink.Dir{Path: "out"}, []downloader.Job{
//	    {URL: "https://example.com/a.iso"},
//	    {URL: "https://example.com/b.iso", Name: "b-latest.iso"},
//	}, downloader.Options{
//	    Workers:  4,
//	    Transfer: cfg.TransferOptions(),
//	    Progress: reporter,
//	})
//
// # Circuit Breaker
//
// After MaxConsecutiveFailures transfers failed in a row, the breaker
// trips: running transfers are cancelled, queued ones are never started,
// and Run returns a *CircuitBreakerError listing the failures.
//
// # Cancellation
//
// Cancelling ctx cancels every running transfer. Run then returns an error
// wrapping resume.ErrCancelled.
package downloader
