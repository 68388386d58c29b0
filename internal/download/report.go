package download

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/Duke-GCB/DukeDSClient-sub000/internal/progress"
)

// Report holds the outcome of every file in a download run.
type Report struct {
	Files []FileStatus
}

func newReport(files []*fileState) *Report {
	r := &Report{Files: make([]FileStatus, 0, len(files))}
	for _, fs := range files {
		r.Files = append(r.Files, fs.status())
	}
	return r
}

// Failed returns the files without a valid local copy.
func (r *Report) Failed() []FileStatus {
	var failed []FileStatus
	for _, f := range r.Files {
		if !f.OK() {
			failed = append(failed, f)
		}
	}
	return failed
}

// Write prints one row per file.
func (r *Report) Write(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STATUS\tFILENAME\tSIZE\tDETAIL")
	for _, f := range r.Files {
		detail := ""
		switch {
		case f.Err != nil:
			detail = f.Err.Error()
		case f.Hash != nil:
			detail = f.Hash.StatusLine()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", f.State, f.Item.LocalPath, progress.FormatBytes(f.Item.Size), detail)
	}
	return tw.Flush()
}
