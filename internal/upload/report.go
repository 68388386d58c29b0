package upload

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/Duke-GCB/DukeDSClient-sub000/internal/progress"
)

// Report lists the files sent by an upload run.
type Report struct {
	Sent []Sent
}

// Write prints the report as an aligned table.
func (r *Report) Write(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SENT FILENAME\tID\tSIZE\tHASH")
	for _, s := range r.Sent {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s:%s\n", s.Path, s.FileID, progress.FormatBytes(s.Size), s.Hash.Algorithm, s.Hash.Value)
	}
	return tw.Flush()
}

// TotalBytes returns the bytes sent.
func (r *Report) TotalBytes() int64 {
	var total int64
	for _, s := range r.Sent {
		total += s.Size
	}
	return total
}
