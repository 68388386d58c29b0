// Package progress reports transfer progress for uploads and downloads.
//
// The transfer engines notify a [Watcher] from the controller goroutine.
// [Reporter] is the terminal implementation: it prints completion
// percentage, transfer speed and ETA, and a notice while the data service
// is catching up after a write.
//
// # Usage
//
//	reporter := progress.NewReporter(progress.Options{
//	    Verb:       "Uploading",
//	    TotalBytes: totalBytes,
//	    TotalItems: numFiles,
//	    Output:     os.Stderr,
//	})
//
//	reporter.Start()
//	defer reporter.Stop()
//
// # Output Format
//
//	[ddsclient] Uploading 3 items | Total size: 2.50 GB | Workers: 8
//	[ddsclient] Progress: 45.2% | 1.13 GB / 2.50 GB | Speed: 120.00 MB/s | ETA: 12s | Uploading data/reads.bam
package progress
