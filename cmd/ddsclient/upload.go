package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/Duke-GCB/DukeDSClient-sub000/internal/ddsapi"
	"github.com/Duke-GCB/DukeDSClient-sub000/internal/progress"
	"github.com/Duke-GCB/DukeDSClient-sub000/internal/upload"
)

// runUpload sends local files to a project, or to a folder within it.
func runUpload(args []string) int {
	fs := flag.NewFlagSet("upload", flag.ExitOnError)

	common := addCommonFlags(fs)
	project := fs.String("project", "", "Project ID (required)")
	folder := fs.String("folder", "", "Folder ID to upload into (default: project root)")
	fileID := fs.String("file-id", "", "Existing file ID; the upload becomes its new version (single file only)")
	chunkSize := fs.String("chunk-size", "", "Size of each chunk (default from config)")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: ddsclient upload [options] <file>...

Send local files to the data service in chunks.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}

	paths := fs.Args()
	if *project == "" || len(paths) == 0 {
		fmt.Fprintln(os.Stderr, "Error: -project and at least one file are required")
		fs.Usage()
		return ExitInvalidArgs
	}
	if *fileID != "" && len(paths) != 1 {
		fmt.Fprintln(os.Stderr, "Error: -file-id takes exactly one file")
		return ExitInvalidArgs
	}

	cfg, err := common.load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitConfigError
	}
	if *chunkSize != "" {
		n, err := progress.ParseBytes(*chunkSize)
		if err != nil || n <= 0 {
			fmt.Fprintf(os.Stderr, "Invalid chunk size: %s\n", *chunkSize)
			return ExitInvalidArgs
		}
		cfg.UploadBytesPerChunk = n
	}
	logger := newLogger(cfg.Debug)

	ctx, cancel := signalContext()
	defer cancel()

	if err := resolveAuth(ctx, &cfg, logger); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitConfigError
	}

	parent := ddsapi.Parent{Kind: ddsapi.KindProject, ID: *project}
	if *folder != "" {
		parent = ddsapi.Parent{Kind: ddsapi.KindFolder, ID: *folder}
	}
	items := make([]upload.Item, len(paths))
	for i, p := range paths {
		items[i] = upload.Item{Path: p, Parent: parent, ProjectID: *project, RemoteFileID: *fileID}
	}

	totalBytes, err := upload.TotalSize(items)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}

	var watcher progress.Watcher = progress.Discard
	if *common.progress {
		reporter := progress.NewReporter(progress.Options{
			Verb:       "Uploading",
			TotalBytes: totalBytes,
			TotalItems: len(items),
			Workers:    cfg.UploadWorkers,
			Output:     os.Stderr,
		})
		reporter.Start()
		defer reporter.Stop()
		watcher = reporter
	}

	up := upload.New(upload.Options{
		Connection:          cfg.Connection(),
		BytesPerChunk:       cfg.UploadBytesPerChunk,
		Workers:             cfg.UploadWorkers,
		ConsistencyInterval: cfg.Retry.ResourceNotConsistentWait,
		ConsistencyMaxWait:  cfg.Retry.ResourceNotConsistentMaxWait,
		ForbiddenRetryTimes: cfg.Retry.SendExternalForbiddenRetryTimes,
		Watcher:             watcher,
		Logger:              &logger,
	})

	report, err := up.Upload(ctx, items)
	if report != nil && len(report.Sent) > 0 {
		report.Write(os.Stdout)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if errors.Is(err, ddsapi.ErrUnauthorized) || errors.Is(err, ddsapi.ErrForbidden) {
			return ExitServiceError
		}
		return ExitGeneralError
	}
	return ExitSuccess
}
