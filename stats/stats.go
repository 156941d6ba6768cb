package stats

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"
)

type Stage string

const (
	StageSource  Stage = "source"
	StageTriage  Stage = "triage"
	StageDeliver Stage = "deliver"
)

type EventType string

const (
	EventTypeScanned   EventType = "scanned"
	EventTypeInvalid   EventType = "invalid"
	EventTypeBulk      EventType = "bulk"
	EventTypeDuplicate EventType = "duplicate"
	EventTypeComposed  EventType = "composed"
	EventTypeDelivered EventType = "delivered"
	EventTypeDryRun    EventType = "dry_run"
	EventTypeError     EventType = "error"
)

type Event struct {
	Stage     Stage
	Type      EventType
	MessageID string
	Err       error
	// Detail carries the classifier rule for bulk events and the transport
	// name for deliveries.
	Detail string
}

type Summary struct {
	Scanned    int
	Invalid    int
	Bulk       int
	Duplicates int
	Composed   int
	Delivered  int
	DryRun     int
	Errors     int
	BulkRules  map[string]int
	LastError  error
}

func (s Summary) LogAttrs() []any {
	attrs := []any{
		"scanned", s.Scanned,
		"invalid", s.Invalid,
		"bulk", s.Bulk,
		"duplicates", s.Duplicates,
		"composed", s.Composed,
		"delivered", s.Delivered,
		"dryRun", s.DryRun,
		"errors", s.Errors,
	}
	if s.LastError != nil {
		attrs = append(attrs, "lastError", s.LastError.Error())
	}
	return attrs
}

type Collector struct {
	mu      sync.Mutex
	summary Summary
}

func NewCollector() *Collector {
	return &Collector{summary: Summary{BulkRules: make(map[string]int)}}
}

func (c *Collector) Run(ctx context.Context, events <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			c.Apply(evt)
		}
	}
}

func (c *Collector) Snapshot() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	summary := c.summary
	summary.BulkRules = make(map[string]int, len(c.summary.BulkRules))
	for k, v := range c.summary.BulkRules {
		summary.BulkRules[k] = v
	}
	return summary
}

func (c *Collector) Apply(evt Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch evt.Type {
	case EventTypeScanned:
		c.summary.Scanned++
	case EventTypeInvalid:
		c.summary.Invalid++
	case EventTypeBulk:
		c.summary.Bulk++
		c.summary.BulkRules[evt.Detail]++
	case EventTypeDuplicate:
		c.summary.Duplicates++
	case EventTypeComposed:
		c.summary.Composed++
	case EventTypeDelivered:
		c.summary.Delivered++
	case EventTypeDryRun:
		c.summary.DryRun++
	case EventTypeError:
		c.summary.Errors++
		if evt.Err != nil {
			c.summary.LastError = evt.Err
		}
	}
}

type EventStream interface {
	SubscribeStats(name string, fn func(context.Context, <-chan Event) error)
}

type Reporter struct {
	collector *Collector
	logger    *slog.Logger
	started   time.Time
}

func NewReporter(stream EventStream, logger *slog.Logger) *Reporter {
	reporter := &Reporter{
		collector: NewCollector(),
		logger:    logger,
		started:   time.Now(),
	}
	stream.SubscribeStats("stats-reporter", reporter.consume)
	return reporter
}

func (r *Reporter) consume(ctx context.Context, events <-chan Event) error {
	r.collector.Run(ctx, events)
	summary := r.collector.Snapshot()
	attrs := append(summary.LogAttrs(), "duration", time.Since(r.started))
	if ctx.Err() != nil {
		if r.logger != nil {
			r.logger.Debug("stats collection stopped", append(attrs, "err", ctx.Err())...)
		}
		return ctx.Err()
	}
	if r.logger != nil {
		r.logger.Info("stats summary", attrs...)
		for rule, count := range summary.BulkRules {
			r.logger.Debug("bulk rule", "rule", rule, "count", count)
		}
	}
	return nil
}

func (r *Reporter) Summary() Summary {
	return r.collector.Snapshot()
}

// Ranked returns the entries of m sorted by count, highest first, then by key.
func Ranked(m map[string]int) []Pair {
	pairs := make([]Pair, 0, len(m))
	for k, v := range m {
		pairs = append(pairs, Pair{Key: k, Value: v})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Value != pairs[j].Value {
			return pairs[i].Value > pairs[j].Value
		}
		return pairs[i].Key < pairs[j].Key
	})
	return pairs
}

type Pair struct {
	Key   string
	Value int
}

// PrettyPrintTop writes the top N most frequent items in a map to w.
func PrettyPrintTop(w io.Writer, m map[string]int, limit int) {
	pairs := Ranked(m)
	for i := 0; i < limit && i < len(pairs); i++ {
		fmt.Fprintf(w, "%d. %s (%d)\n", i+1, pairs[i].Key, pairs[i].Value)
	}
}
