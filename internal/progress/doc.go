// Package progress provides progress reporting for batches of transfers.
//
// The reporter writes human-readable progress to stderr: completion
// percentage over the transfers whose size is known, transfer speed, ETA
// and per-file counters.
//
// # Usage
//
//	reporter := progress.NewReporter(progress.Options{
//	    TotalFiles: len(urls),
//	    Workers:    4,
//	})
//
//	reporter.Start()
//	defer reporter.Stop()
//
//	// One observer per transfer
//	s, err := resume.Fetch(ctx, url, resume.WithObserver(reporter.Observer()))
//
// # Output Format
//
//	[gulp] Files: 3 | Workers: 4
//	[gulp] Progress: 45.2% | 1.1 GiB / 2.5 GiB | Speed: 120 MiB/s | ETA: 12s
//	[gulp] Files: 1 completed | 2 in-progress | 0 pending | 0 failed | 1 retries
package progress
