package progress

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pterm/pterm"

	"github.com/dhcgn/readreply/stats"
)

// Bar tracks triage progress over a source of known size.
type Bar struct {
	pb      *pterm.ProgressbarPrinter
	total   int
	scanned int
	replied int
	mu      sync.Mutex
	enabled bool
}

// New creates a progress bar when logLevel is "info" and the number of
// messages is known up front.
func New(total int, logLevel string) *Bar {
	bar := &Bar{
		total:   total,
		enabled: logLevel == "info" && total > 0,
	}

	if bar.enabled {
		pb, _ := pterm.DefaultProgressbar.
			WithTotal(total).
			WithTitle("Triaging messages").
			Start()
		bar.pb = pb

		pterm.Info.Printf("Messages to triage: %d\n", total)
		pterm.Println()
	}

	return bar
}

// Enabled reports whether the bar renders anything.
func (b *Bar) Enabled() bool {
	return b != nil && b.enabled
}

// Update advances the bar for scanned messages and prints failures above it.
func (b *Bar) Update(evt stats.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch evt.Type {
	case stats.EventTypeScanned:
		b.scanned++
		if b.pb == nil {
			return
		}
		b.pb.Increment()
		if evt.MessageID != "" {
			b.pb.UpdateTitle("Triaging: " + truncate(evt.MessageID, 40))
		}
	case stats.EventTypeDelivered, stats.EventTypeDryRun:
		b.replied++
	case stats.EventTypeError:
		if b.pb != nil && evt.Err != nil {
			pterm.Error.Printf("Error: %v\n", evt.Err)
		}
	}
}

// Counts returns how many messages were scanned and answered so far.
func (b *Bar) Counts() (scanned, replied int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.scanned, b.replied
}

// Stop finalizes the progress bar.
func (b *Bar) Stop() {
	if !b.Enabled() || b.pb == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pb.Current < b.total {
		b.pb.Current = b.total
	}

	_, _ = b.pb.Stop()
	pterm.Success.Printf("Triage complete, %d replies\n", b.replied)
}

// Subscriber feeds events into the bar until the stream closes.
func (b *Bar) Subscriber(ctx context.Context, events <-chan stats.Event) error {
	defer b.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			b.Update(evt)
		}
	}
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}

// ProgressReporter prints a formatted summary once the run is over.
type ProgressReporter struct {
	bar       *Bar
	collector *stats.Collector
	logger    *slog.Logger
	started   time.Time
}

// NewProgressReporter subscribes bar and a summary printer to stream when the
// bar is enabled.
func NewProgressReporter(stream stats.EventStream, bar *Bar, logger *slog.Logger) *ProgressReporter {
	reporter := &ProgressReporter{
		bar:       bar,
		collector: stats.NewCollector(),
		logger:    logger,
		started:   time.Now(),
	}

	if bar.Enabled() {
		stream.SubscribeStats("progress-bar", bar.Subscriber)
		stream.SubscribeStats("progress-stats", reporter.collectStats)
	}

	return reporter
}

func (pr *ProgressReporter) collectStats(ctx context.Context, events <-chan stats.Event) error {
	pr.collector.Run(ctx, events)

	summary := pr.collector.Snapshot()
	duration := time.Since(pr.started)

	pterm.Println()
	pterm.DefaultSection.Println("Summary")
	pterm.Info.Printf("Duration: %v\n", duration.Round(time.Millisecond))
	pterm.Info.Printf("Scanned: %d\n", summary.Scanned)
	pterm.Info.Printf("Without sender: %d\n", summary.Invalid)
	pterm.Info.Printf("Bulk (skipped): %d\n", summary.Bulk)
	for _, pair := range stats.Ranked(summary.BulkRules) {
		pterm.Info.Printf("  %s: %d\n", pair.Key, pair.Value)
	}
	pterm.Info.Printf("Already answered: %d\n", summary.Duplicates)
	pterm.Info.Printf("Composed: %d\n", summary.Composed)
	pterm.Info.Printf("Delivered: %d\n", summary.Delivered)
	pterm.Info.Printf("Dry-run: %d\n", summary.DryRun)
	pterm.Info.Printf("Errors: %d\n", summary.Errors)
	if summary.LastError != nil {
		pterm.Error.Printf("Last error: %v\n", summary.LastError)
	}

	return nil
}
