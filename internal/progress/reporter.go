package progress

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Watcher is notified as items are transferred.
//
// TransferringItem is called with the item being worked on, how many units
// of work (files, chunks) just finished, and how many bytes moved. A
// negative byte count reverts progress for a retried range.
type Watcher interface {
	TransferringItem(name string, incrementAmt int, transferredBytes int64)
	StartWaiting()
	DoneWaiting()
}

// Discard is a Watcher that ignores every notification.
var Discard Watcher = discard{}

type discard struct{}

func (discard) TransferringItem(string, int, int64) {}
func (discard) StartWaiting() {}
func (discard) DoneWaiting() {}

// Options configures the progress reporter.
type Options struct {
	// Verb describes the transfer, e.g. "Uploading" or "Downloading".
	Verb string

	// TotalBytes is the total size in bytes to transfer.
	TotalBytes int64

	// TotalItems is the number of items to transfer.
	TotalItems int

	// Workers is the number of parallel workers.
	Workers int

	// Output is where to write progress output.
	// Default: os.Stdout
	Output io.Writer

	// UpdateInterval is how often to update the progress display.
	// Default: 500ms
	UpdateInterval time.Duration
}

// Reporter outputs human-readable progress information.
type Reporter struct {
	opts Options

	mu             sync.Mutex
	transferred    atomic.Int64
	completedItems atomic.Int64
	waiting        atomic.Int32
	current        atomic.Value // string
	startTime      time.Time
	lastUpdate     time.Time
	lastBytes      int64
	stopCh         chan struct{}
	doneCh         chan struct{}
	started        bool
	stopped        bool
}

// NewReporter creates a new progress reporter.
func NewReporter(opts Options) *Reporter {
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.UpdateInterval == 0 {
		opts.UpdateInterval = 500 * time.Millisecond
	}
	if opts.Verb == "" {
		opts.Verb = "Transferring"
	}

	r := &Reporter{
		opts:   opts,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	r.current.Store("")
	return r
}

// Start begins outputting progress information.
func (r *Reporter) Start() {
	r.mu.Lock()
	r.started = true
	r.startTime = time.Now()
	r.lastUpdate = r.startTime
	r.mu.Unlock()

	fmt.Fprintf(r.opts.Output, "[ddsclient] %s %d items | Total size: %s | Workers: %d\n",
		r.opts.Verb,
		r.opts.TotalItems,
		formatBytes(r.opts.TotalBytes),
		r.opts.Workers,
	)

	go r.updateLoop()
}

// Stop stops the progress reporter and prints the final status.
func (r *Reporter) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	started := r.started
	r.mu.Unlock()

	close(r.stopCh)
	if started {
		<-r.doneCh
	}
}

// TransferringItem records progress for name.
func (r *Reporter) TransferringItem(name string, incrementAmt int, transferredBytes int64) {
	r.current.Store(name)
	r.completedItems.Add(int64(incrementAmt))
	r.transferred.Add(transferredBytes)
}

// StartWaiting marks that a worker is waiting for the service to become consistent.
func (r *Reporter) StartWaiting() {
	r.waiting.Add(1)
}

// DoneWaiting marks that a worker has stopped waiting.
func (r *Reporter) DoneWaiting() {
	r.waiting.Add(-1)
}

// Transferred returns the bytes transferred so far.
func (r *Reporter) Transferred() int64 {
	return r.transferred.Load()
}

// CompletedItems returns the units of work completed so far.
func (r *Reporter) CompletedItems() int64 {
	return r.completedItems.Load()
}

// Waiting reports whether any worker is waiting on the service.
func (r *Reporter) Waiting() bool {
	return r.waiting.Load() > 0
}

// updateLoop periodically updates the progress display.
func (r *Reporter) updateLoop() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.opts.UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			r.printFinalStatus()
			return
		case <-ticker.C:
			r.printProgress()
		}
	}
}

// printProgress outputs the current progress.
func (r *Reporter) printProgress() {
	now := time.Now()
	completed := r.transferred.Load()

	// Calculate speed
	elapsed := now.Sub(r.lastUpdate).Seconds()
	if elapsed < 0.1 {
		elapsed = 0.1
	}
	speed := float64(completed-r.lastBytes) / elapsed
	if speed < 0 {
		speed = 0
	}

	r.lastUpdate = now
	r.lastBytes = completed

	if r.Waiting() {
		fmt.Fprintf(r.opts.Output, "\r[ddsclient] Waiting for the data service to finish processing...    ")
		return
	}

	fmt.Fprintf(r.opts.Output, "\r[ddsclient] Progress: %.1f%% | %s / %s | Speed: %s/s | ETA: %s | %s %s    ",
		r.percent(completed),
		formatBytes(completed),
		formatBytes(r.opts.TotalBytes),
		formatBytes(int64(speed)),
		r.eta(completed, speed),
		r.opts.Verb,
		r.current.Load().(string),
	)
}

func (r *Reporter) percent(completed int64) float64 {
	if r.opts.TotalBytes > 0 {
		return float64(completed) / float64(r.opts.TotalBytes) * 100
	}
	if r.opts.TotalItems > 0 {
		return float64(r.completedItems.Load()) / float64(r.opts.TotalItems) * 100
	}
	return 0
}

func (r *Reporter) eta(completed int64, speed float64) string {
	if r.opts.TotalBytes <= 0 {
		return "-"
	}
	if speed <= 0 {
		return "calculating..."
	}
	remaining := float64(r.opts.TotalBytes - completed)
	return formatDuration(time.Duration(remaining / speed * float64(time.Second)))
}

// printFinalStatus outputs the final status.
func (r *Reporter) printFinalStatus() {
	completed := r.transferred.Load()
	duration := time.Since(r.startTime)
	avgSpeed := float64(completed) / max(duration.Seconds(), 0.001)

	fmt.Fprintf(r.opts.Output, "\r[ddsclient] Done: %s in %s | Average speed: %s/s    \n",
		formatBytes(completed),
		formatDuration(duration),
		formatBytes(int64(avgSpeed)),
	)
}

// formatBytes formats bytes as a human-readable string.
func formatBytes(b int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
		TB = GB * 1024
	)

	switch {
	case b >= TB:
		return fmt.Sprintf("%.2f TB", float64(b)/float64(TB))
	case b >= GB:
		return fmt.Sprintf("%.2f GB", float64(b)/float64(GB))
	case b >= MB:
		return fmt.Sprintf("%.2f MB", float64(b)/float64(MB))
	case b >= KB:
		return fmt.Sprintf("%.2f KB", float64(b)/float64(KB))
	default:
		return fmt.Sprintf("%d B", b)
	}
}

// formatDuration formats a duration as a human-readable string.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh %dm %ds", h, m, s)
}

// FormatBytes is exported for use by other packages.
func FormatBytes(b int64) string {
	return formatBytes(b)
}

// ParseBytes parses a human-readable byte string (e.g., "100MB" or "1GiB").
// Units are binary: 1KB == 1KiB == 1024 bytes.
func ParseBytes(s string) (int64, error) {
	var multiplier int64 = 1
	s = strings.TrimSpace(s)
	num := strings.TrimSuffix(strings.ToUpper(s), "IB")
	if num != strings.ToUpper(s) {
		num += "B"
	}

	switch {
	case strings.HasSuffix(num, "TB"):
		multiplier = 1024 * 1024 * 1024 * 1024
		num = num[:len(num)-2]
	case strings.HasSuffix(num, "GB"):
		multiplier = 1024 * 1024 * 1024
		num = num[:len(num)-2]
	case strings.HasSuffix(num, "MB"):
		multiplier = 1024 * 1024
		num = num[:len(num)-2]
	case strings.HasSuffix(num, "KB"):
		multiplier = 1024
		num = num[:len(num)-2]
	case strings.HasSuffix(num, "B"):
		num = num[:len(num)-1]
	}

	var value float64
	if _, err := fmt.Sscanf(strings.TrimSpace(num), "%f", &value); err != nil {
		return 0, fmt.Errorf("invalid byte string: %s", s)
	}
	if value < 0 {
		return 0, fmt.Errorf("invalid byte string: %s", s)
	}

	return int64(value * float64(multiplier)), nil
}
