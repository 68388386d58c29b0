package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/Duke-GCB/DukeDSClient-sub000/internal/objectstore"
)

// runCheck validates an upload stored in a bucket, optionally deleting it.
func runCheck(args []string) int {
	fs := flag.NewFlagSet("check", flag.ExitOnError)

	bucket := fs.String("bucket", "", "Bucket URL (required)")
	uploadID := fs.String("upload", "", "Upload ID (required)")
	del := fs.Bool("delete", false, "Delete the upload's chunks and manifest")
	force := fs.Bool("force", false, "Skip the delete confirmation prompt")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: ddsclient check [options]

Verify that every chunk of a completed upload exists with its recorded size,
or delete the upload with -delete.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}
	if *bucket == "" || *uploadID == "" {
		fmt.Fprintln(os.Stderr, "Error: -bucket and -upload are required")
		fs.Usage()
		return ExitInvalidArgs
	}

	ctx, cancel := signalContext()
	defer cancel()

	store, err := objectstore.Open(ctx, *bucket)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening bucket: %v\n", err)
		return ExitStorageError
	}
	defer store.Close()

	if *del {
		if !*force {
			fmt.Printf("Delete upload %s from %s? [y/N]: ", *uploadID, *bucket)
			response, _ := bufio.NewReader(os.Stdin).ReadString('\n')
			response = strings.TrimSpace(strings.ToLower(response))
			if response != "y" && response != "yes" {
				fmt.Fprintln(os.Stderr, "Cancelled")
				return ExitSuccess
			}
		}
		if err := store.Delete(ctx, *uploadID); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return ExitStorageError
		}
		fmt.Fprintf(os.Stderr, "[ddsclient] Deleted upload %s\n", *uploadID)
		return ExitSuccess
	}

	result, err := store.Validate(ctx, *uploadID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitStorageError
	}

	fmt.Printf("Upload:  %s\n", *uploadID)
	fmt.Printf("Size:    %d bytes\n", result.TotalSize)
	fmt.Printf("Chunks:  %d\n", result.ChunkCount)
	if result.Valid {
		fmt.Println("Status:  VALID")
		return ExitSuccess
	}
	fmt.Println("Status:  INVALID")
	fmt.Printf("Missing: %d, size mismatches: %d\n", result.MissingChunks, result.SizeMismatches)
	for _, e := range result.Errors {
		fmt.Printf("  - %s\n", e)
	}
	return ExitValidationFailed
}
