package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/Duke-GCB/DukeDSClient-sub000/internal/ddsapi"
	"github.com/Duke-GCB/DukeDSClient-sub000/internal/download"
	"github.com/Duke-GCB/DukeDSClient-sub000/internal/progress"
)

// runDownload fetches remote files by ID into a local directory.
func runDownload(args []string) int {
	fs := flag.NewFlagSet("download", flag.ExitOnError)

	common := addCommonFlags(fs)
	dir := fs.String("dir", ".", "Directory to download into")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: ddsclient download [options] <file-id>...

Fetch remote files in parallel byte ranges and verify their hashes.
Files whose local copy already verifies are skipped.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}

	fileIDs := fs.Args()
	if len(fileIDs) == 0 {
		fmt.Fprintln(os.Stderr, "Error: at least one file ID is required")
		fs.Usage()
		return ExitInvalidArgs
	}

	cfg, err := common.load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitConfigError
	}
	logger := newLogger(cfg.Debug)

	ctx, cancel := signalContext()
	defer cancel()

	if err := resolveAuth(ctx, &cfg, logger); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitConfigError
	}

	client := ddsapi.NewClient(cfg.Connection())
	client.SetLogger(logger)
	client.SetStatusFunc(statusPrinter)

	items := make([]download.Item, 0, len(fileIDs))
	var totalBytes int64
	for _, id := range fileIDs {
		f, err := client.GetFile(ctx, id)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return ExitServiceError
		}
		items = append(items, download.ItemForFile(f, *dir))
		totalBytes += f.Size()
	}

	var watcher progress.Watcher = progress.Discard
	if *common.progress {
		reporter := progress.NewReporter(progress.Options{
			Verb:       "Downloading",
			TotalBytes: totalBytes,
			TotalItems: len(items),
			Workers:    cfg.DownloadWorkers,
			Output:     os.Stderr,
		})
		reporter.Start()
		defer reporter.Stop()
		watcher = reporter
	}

	d := download.New(download.Options{
		Connection:           cfg.Connection(),
		Workers:              cfg.DownloadWorkers,
		FetchRetryTimes:      cfg.Retry.FetchExternalRetryTimes,
		FetchRetryWait:       cfg.Retry.FetchExternalRetryWait,
		ExpiredURLRetryTimes: cfg.Retry.FetchExpiredURLRetryTimes,
		Watcher:              watcher,
		Logger:               &logger,
	})

	report, err := d.Download(ctx, items)
	if report != nil {
		report.Write(os.Stdout)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if download.IsFilesFailed(err) {
			return ExitValidationFailed
		}
		return ExitGeneralError
	}
	return ExitSuccess
}
