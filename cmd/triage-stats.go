package cmd

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/dhcgn/readreply/classify"
	"github.com/dhcgn/readreply/filter"
	"github.com/dhcgn/readreply/mailparse"
	"github.com/dhcgn/readreply/mbox"
	"github.com/dhcgn/readreply/stats"
)

// csvLimit caps the rows written per report.
const csvLimit = 1000

type triageReport struct {
	Total     int
	Filtered  int
	Invalid   int
	Personal  int
	Bulk      int
	Rules     map[string]int
	Senders   map[string]int
	BulkFrom  map[string]int
	Subjects  map[string]int
	filterHit filter.Stats
}

func newTriageReport() *triageReport {
	return &triageReport{
		Rules:    make(map[string]int),
		Senders:  make(map[string]int),
		BulkFrom: make(map[string]int),
		Subjects: make(map[string]int),
	}
}

// add classifies one raw message the way the reply pipeline would.
func (r *triageReport) add(raw []byte, f *filter.Filter) {
	r.Total++
	if !f.AllowsRaw(raw) {
		r.Filtered++
		return
	}

	msg, err := mailparse.Normalize(raw)
	if err != nil {
		r.Invalid++
		return
	}

	verdict := classify.Evaluate(msg)
	if verdict.Bulk {
		r.Bulk++
		r.Rules[string(verdict.Rule)]++
		r.BulkFrom[msg.FromEmail]++
		return
	}

	r.Personal++
	r.Senders[msg.FromEmail]++
	r.Subjects[msg.Subject]++
}

// NewTriageStatsCmd returns the command that dry-runs the classifier over an
// mbox archive.
func NewTriageStatsCmd() *cobra.Command {
	var (
		reportDir     string
		topN          int
		includeHeader []string
		includeBody   []string
		excludeHeader []string
		excludeBody   []string
	)

	cmd := &cobra.Command{
		Use:   "triage-stats [mbox file]",
		Short: "Classify an mbox archive offline and report who would get a reply",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			mboxPath := args[0]

			f, err := filter.New(filter.Options{
				IncludeHeader: includeHeader,
				IncludeBody:   includeBody,
				ExcludeHeader: excludeHeader,
				ExcludeBody:   excludeBody,
			})
			if err != nil {
				return fmt.Errorf("create filter: %w", err)
			}

			fmt.Fprintln(out, "Analyzing mbox file:", mboxPath)

			report := newTriageReport()
			if err := mbox.Read(mboxPath, func(raw []byte) error {
				report.add(raw, f)
				return nil
			}); err != nil {
				return fmt.Errorf("error reading mbox file: %w", err)
			}
			report.filterHit = f.GetStats()

			report.print(out, topN)

			if err := report.saveCSV(reportDir); err != nil {
				return fmt.Errorf("error saving CSV reports: %w", err)
			}
			fmt.Fprintf(out, "\nReports saved to directory: %s\n", reportDir)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&reportDir, "output", "o", ".", "Output directory for CSV reports")
	flags.IntVarP(&topN, "top", "t", 10, "Number of top items to display in statistics")
	flags.StringArrayVar(&includeHeader, "include-header", nil, "Regex allow-list applied to message headers (mutually exclusive with exclude flags)")
	flags.StringArrayVar(&includeBody, "include-body", nil, "Regex allow-list applied to message bodies (mutually exclusive with exclude flags)")
	flags.StringArrayVar(&excludeHeader, "exclude-header", nil, "Regex block-list applied to message headers (mutually exclusive with include flags)")
	flags.StringArrayVar(&excludeBody, "exclude-body", nil, "Regex block-list applied to message bodies (mutually exclusive with include flags)")

	return cmd
}

func (r *triageReport) print(w io.Writer, topN int) {
	fmt.Fprintf(w, "Processed %d messages: %d personal, %d bulk, %d without sender, %d filtered\n\n",
		r.Total, r.Personal, r.Bulk, r.Invalid, r.Filtered)

	printFilterHits(w, "Include Header Filters", r.filterHit.IncludeHeaderPatterns, r.filterHit.IncludeHeaderHits)
	printFilterHits(w, "Include Body Filters", r.filterHit.IncludeBodyPatterns, r.filterHit.IncludeBodyHits)
	printFilterHits(w, "Exclude Header Filters", r.filterHit.ExcludeHeaderPatterns, r.filterHit.ExcludeHeaderHits)
	printFilterHits(w, "Exclude Body Filters", r.filterHit.ExcludeBodyPatterns, r.filterHit.ExcludeBodyHits)

	printTop(w, "Bulk rules", r.Rules, topN)
	printTop(w, "Senders that would get a reply", r.Senders, topN)
	printTop(w, "Subjects that would get a reply", r.Subjects, topN)
	printTop(w, "Bulk senders", r.BulkFrom, topN)
}

func (r *triageReport) saveCSV(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	reports := []struct {
		name   string
		counts map[string]int
	}{
		{"rules", r.Rules},
		{"personal_senders", r.Senders},
		{"personal_subjects", r.Subjects},
		{"bulk_senders", r.BulkFrom},
	}
	for _, report := range reports {
		path := filepath.Join(dir, fmt.Sprintf("report_%s.csv", report.name))
		if err := writeCSV(path, report.counts, csvLimit); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
	}
	return nil
}

func writeCSV(path string, counts map[string]int, limit int) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"Value", "Count"}); err != nil {
		return err
	}

	pairs := stats.Ranked(counts)
	for i := 0; i < limit && i < len(pairs); i++ {
		if err := writer.Write([]string{pairs[i].Key, strconv.Itoa(pairs[i].Value)}); err != nil {
			return err
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return err
	}
	return file.Close()
}

func printTop(w io.Writer, title string, counts map[string]int, limit int) {
	if len(counts) == 0 {
		return
	}
	fmt.Fprintf(w, "Top %d %s:\n", limit, title)
	stats.PrettyPrintTop(w, counts, limit)
	fmt.Fprintln(w)
}

func printFilterHits(w io.Writer, title string, patterns []string, hits map[string]int) {
	if len(patterns) == 0 {
		return
	}
	counts := make(map[string]int, len(patterns))
	for _, pattern := range patterns {
		counts[pattern] = hits[pattern]
	}

	fmt.Fprintf(w, "%s:\n", title)
	for _, p := range stats.Ranked(counts) {
		if p.Value > 0 {
			fmt.Fprintf(w, "  ✓ %s: %d hits\n", p.Key, p.Value)
		} else {
			fmt.Fprintf(w, "  ✗ %s: 0 hits\n", p.Key)
		}
	}
	fmt.Fprintln(w)
}
