package filter

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// Options captures the filtering configuration.
type Options struct {
	IncludeHeader []string
	IncludeBody   []string
	ExcludeHeader []string
	ExcludeBody   []string
}

// Stats reports how often each pattern matched, keyed by pattern source.
type Stats struct {
	IncludeHeaderPatterns []string
	IncludeBodyPatterns   []string
	ExcludeHeaderPatterns []string
	ExcludeBodyPatterns   []string
	IncludeHeaderHits     map[string]int
	IncludeBodyHits       map[string]int
	ExcludeHeaderHits     map[string]int
	ExcludeBodyHits       map[string]int
	Allowed               int
	Rejected              int
}

// Filter holds compiled regex patterns for filtering messages. It is safe for
// concurrent use.
type Filter struct {
	includeMode    bool
	excludeMode    bool
	includeHeader  []*regexp.Regexp
	includeBody    []*regexp.Regexp
	excludeHeader  []*regexp.Regexp
	excludeBody    []*regexp.Regexp
	needHeaderText bool
	needBodyText   bool

	mu    sync.Mutex
	stats Stats
}

// New creates a new Filter from the provided options.
func New(opts Options) (*Filter, error) {
	includeHeader, err := compilePatterns(opts.IncludeHeader)
	if err != nil {
		return nil, fmt.Errorf("compile include-header pattern: %w", err)
	}
	includeBody, err := compilePatterns(opts.IncludeBody)
	if err != nil {
		return nil, fmt.Errorf("compile include-body pattern: %w", err)
	}
	excludeHeader, err := compilePatterns(opts.ExcludeHeader)
	if err != nil {
		return nil, fmt.Errorf("compile exclude-header pattern: %w", err)
	}
	excludeBody, err := compilePatterns(opts.ExcludeBody)
	if err != nil {
		return nil, fmt.Errorf("compile exclude-body pattern: %w", err)
	}

	includeActive := len(includeHeader) > 0 || len(includeBody) > 0
	excludeActive := len(excludeHeader) > 0 || len(excludeBody) > 0
	if includeActive && excludeActive {
		return nil, fmt.Errorf("include and exclude filters are mutually exclusive")
	}

	return &Filter{
		includeMode:    includeActive,
		excludeMode:    excludeActive,
		includeHeader:  includeHeader,
		includeBody:    includeBody,
		excludeHeader:  excludeHeader,
		excludeBody:    excludeBody,
		needHeaderText: len(includeHeader) > 0 || len(excludeHeader) > 0,
		needBodyText:   len(includeBody) > 0 || len(excludeBody) > 0,
		stats: Stats{
			IncludeHeaderPatterns: sources(includeHeader),
			IncludeBodyPatterns:   sources(includeBody),
			ExcludeHeaderPatterns: sources(excludeHeader),
			ExcludeBodyPatterns:   sources(excludeBody),
			IncludeHeaderHits:     make(map[string]int),
			IncludeBodyHits:       make(map[string]int),
			ExcludeHeaderHits:     make(map[string]int),
			ExcludeBodyHits:       make(map[string]int),
		},
	}, nil
}

// Active reports whether any pattern is configured.
func (f *Filter) Active() bool {
	return f.includeMode || f.excludeMode
}

// Allows returns true if the message passes the filter criteria.
func (f *Filter) Allows(header, body []byte) bool {
	var headerText, bodyText string
	if f.needHeaderText {
		headerText = string(header)
	}
	if f.needBodyText {
		bodyText = string(body)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	allowed := true
	switch {
	case f.includeMode:
		headerHit := countMatches(f.includeHeader, headerText, f.stats.IncludeHeaderHits)
		bodyHit := countMatches(f.includeBody, bodyText, f.stats.IncludeBodyHits)
		allowed = headerHit || bodyHit
	case f.excludeMode:
		headerHit := countMatches(f.excludeHeader, headerText, f.stats.ExcludeHeaderHits)
		bodyHit := countMatches(f.excludeBody, bodyText, f.stats.ExcludeBodyHits)
		allowed = !headerHit && !bodyHit
	}

	if allowed {
		f.stats.Allowed++
	} else {
		f.stats.Rejected++
	}
	return allowed
}

// AllowsRaw splits raw into header and body and applies Allows.
func (f *Filter) AllowsRaw(raw []byte) bool {
	if !f.Active() {
		f.mu.Lock()
		f.stats.Allowed++
		f.mu.Unlock()
		return true
	}
	header, body := SplitRawMessage(raw)
	return f.Allows(header, body)
}

// GetStats returns a copy of the hit counters.
func (f *Filter) GetStats() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := f.stats
	out.IncludeHeaderHits = copyCounts(f.stats.IncludeHeaderHits)
	out.IncludeBodyHits = copyCounts(f.stats.IncludeBodyHits)
	out.ExcludeHeaderHits = copyCounts(f.stats.ExcludeHeaderHits)
	out.ExcludeBodyHits = copyCounts(f.stats.ExcludeBodyHits)
	return out
}

// SplitRawMessage splits a raw email message into header and body parts.
func SplitRawMessage(raw []byte) (header, body []byte) {
	if len(raw) == 0 {
		return nil, nil
	}

	if idx := bytes.Index(raw, []byte("\r\n\r\n")); idx >= 0 {
		return raw[:idx], raw[idx+4:]
	}
	if idx := bytes.Index(raw, []byte("\n\n")); idx >= 0 {
		return raw[:idx], raw[idx+2:]
	}

	return raw, nil
}

func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, pattern := range patterns {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("compile %q: %w", pattern, err)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}

// countMatches records every matching pattern and reports whether any matched.
func countMatches(patterns []*regexp.Regexp, text string, hits map[string]int) bool {
	matched := false
	for _, re := range patterns {
		if re.MatchString(text) {
			hits[re.String()]++
			matched = true
		}
	}
	return matched
}

func sources(patterns []*regexp.Regexp) []string {
	out := make([]string, len(patterns))
	for i, re := range patterns {
		out[i] = re.String()
	}
	return out
}

func copyCounts(in map[string]int) map[string]int {
	out := make(map[string]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
