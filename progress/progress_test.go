package progress

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhcgn/readreply/stats"
)

type recordingStream struct {
	names []string
}

func (s *recordingStream) SubscribeStats(name string, _ func(context.Context, <-chan stats.Event) error) {
	s.names = append(s.names, name)
}

func TestNewDisabledOutsideInfoLevel(t *testing.T) {
	assert.False(t, New(10, "debug").Enabled())
	assert.False(t, New(0, "info").Enabled())

	var nilBar *Bar
	assert.False(t, nilBar.Enabled())
}

func TestSubscriberCountsEvents(t *testing.T) {
	bar := New(3, "warn")
	events := make(chan stats.Event, 8)
	events <- stats.Event{Type: stats.EventTypeScanned, MessageID: "a@example.com"}
	events <- stats.Event{Type: stats.EventTypeScanned}
	events <- stats.Event{Type: stats.EventTypeBulk}
	events <- stats.Event{Type: stats.EventTypeDelivered}
	events <- stats.Event{Type: stats.EventTypeError, Err: errors.New("boom")}
	close(events)

	require.NoError(t, bar.Subscriber(context.Background(), events))

	scanned, replied := bar.Counts()
	assert.Equal(t, 2, scanned)
	assert.Equal(t, 1, replied)
}

func TestSubscriberStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := New(1, "error").Subscriber(ctx, make(chan stats.Event))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewProgressReporterSubscribesOnlyWhenEnabled(t *testing.T) {
	stream := &recordingStream{}
	NewProgressReporter(stream, New(5, "debug"), nil)
	assert.Empty(t, stream.names)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
}
