package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/Duke-GCB/DukeDSClient-sub000/internal/devserver"
	"github.com/Duke-GCB/DukeDSClient-sub000/internal/objectstore"
)

// runServe runs the dev server until interrupted.
func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)

	listen := fs.String("listen", "127.0.0.1:8080", "Address to listen on")
	bucket := fs.String("bucket", "mem://", "Bucket URL for stored chunks (mem://, file://, s3://, gs://)")
	auth := fs.String("auth", "", "Token clients must send (default: none)")
	chunkVerb := fs.String("chunk-verb", http.MethodPut, "HTTP verb handed out for chunk URLs (PUT or POST)")
	urlTTL := fs.Duration("url-ttl", time.Hour, "Lifetime of download URLs")
	debug := fs.Bool("debug", false, "Log every request")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: ddsclient serve [options]

Run a local implementation of the data service API, storing chunks in a
bucket. Point ddsclient at it with -url http://<listen>/api/v1.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}
	if *chunkVerb != http.MethodPut && *chunkVerb != http.MethodPost {
		fmt.Fprintln(os.Stderr, "Error: -chunk-verb must be PUT or POST")
		return ExitInvalidArgs
	}

	logger := newLogger(*debug)
	ctx, cancel := signalContext()
	defer cancel()

	store, err := objectstore.Open(ctx, *bucket)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening bucket: %v\n", err)
		return ExitStorageError
	}
	defer store.Close()
	store.SetLogger(logger)

	srv := &http.Server{
		Addr: *listen,
		Handler: devserver.New(store, devserver.Options{
			Auth:       *auth,
			ChunkVerb:  *chunkVerb,
			FileURLTTL: *urlTTL,
			Logger:     &logger,
		}),
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	logger.Info().Str("url", "http://"+*listen+devserver.APIPrefix).Str("bucket", *bucket).Msg("serving")

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return ExitGeneralError
		}
	case <-ctx.Done():
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelShutdown()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			fmt.Fprintf(os.Stderr, "Error shutting down: %v\n", err)
			return ExitGeneralError
		}
	}
	return ExitSuccess
}
