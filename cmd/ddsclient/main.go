package main

import (
	"fmt"
	"os"
)

// Exit codes
const (
	ExitSuccess          = 0
	ExitGeneralError     = 1
	ExitInvalidArgs      = 2
	ExitConfigError      = 3
	ExitServiceError     = 4
	ExitStorageError     = 5
	ExitValidationFailed = 7
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return ExitInvalidArgs
	}

	command := args[0]
	cmdArgs := args[1:]

	switch command {
	case "upload":
		return runUpload(cmdArgs)
	case "download":
		return runDownload(cmdArgs)
	case "serve":
		return runServe(cmdArgs)
	case "check":
		return runCheck(cmdArgs)
	case "help", "-h", "--help":
		printUsage()
		return ExitSuccess
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		return ExitInvalidArgs
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `Usage: ddsclient <command> [options]

Commands:
  upload    Send local files to a project in chunks
  download  Fetch remote files in parallel byte ranges
  serve     Run a local data service backed by a bucket
  check     Verify or delete an upload stored in a bucket

Run 'ddsclient <command> -h' for command-specific help.`)
}
