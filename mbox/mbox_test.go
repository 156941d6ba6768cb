package mbox

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhcgn/readreply/filter"
	"github.com/dhcgn/readreply/model"
)

const archive = "From jane@example.com Mon Jan  6 10:00:00 2025\n" +
	"From: \"Jane Doe\" <jane@example.com>\n" +
	"Subject: Broken charger\n" +
	"Message-ID: <a1@example.com>\n" +
	"Date: Mon, 06 Jan 2025 10:00:00 +0000\n" +
	"\n" +
	"My charger stopped working.\n" +
	"\n" +
	"From news@shop.example Tue Jan  7 08:00:00 2025\n" +
	"From: Shop <news@shop.example>\n" +
	"Subject: Weekly deals\n" +
	"\n" +
	"Click to unsubscribe.\n" +
	"\n" +
	"From bob@example.com Wed Jan  8 09:00:00 2025\n" +
	"From: bob@example.com\n" +
	"Subject: Re: invoice\n" +
	"Message-ID: <b2@example.com>\n" +
	"\n" +
	"Thanks!\n"

func writeArchive(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "inbox.mbox")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func collect(t *testing.T, reader Reader) []model.Envelope {
	t.Helper()
	out := make(chan model.Envelope, 16)
	done := make(chan error, 1)
	go func() {
		done <- reader.Stream(context.Background(), out)
		close(out)
	}()

	var envelopes []model.Envelope
	for env := range out {
		envelopes = append(envelopes, env)
	}
	require.NoError(t, <-done)
	return envelopes
}

func TestStreamEmitsEveryMessage(t *testing.T) {
	reader, err := NewReader(writeArchive(t, archive), nil, nil)
	require.NoError(t, err)

	envelopes := collect(t, reader)
	require.Len(t, envelopes, 3)

	first := envelopes[0].Message
	assert.NoError(t, envelopes[0].Err)
	assert.Equal(t, "a1@example.com", first.ID)
	assert.Equal(t, 2025, first.ReceivedAt.Year())
	assert.Equal(t, model.Fingerprint(first.Raw), first.Hash)
	assert.Equal(t, int64(len(first.Raw)), first.Size)
	assert.Contains(t, string(first.Raw), "My charger stopped working.")

	// A missing Message-ID is left for the normalizer to judge.
	assert.Empty(t, envelopes[1].Message.ID)
	assert.NotEmpty(t, envelopes[1].Message.Hash)
}

func TestStreamAppliesFilter(t *testing.T) {
	f, err := filter.New(filter.Options{ExcludeBody: []string{`(?i)unsubscribe`}})
	require.NoError(t, err)

	reader, err := NewReader(writeArchive(t, archive), f, nil)
	require.NoError(t, err)

	envelopes := collect(t, reader)
	require.Len(t, envelopes, 2)
	assert.Equal(t, "a1@example.com", envelopes[0].Message.ID)
	assert.Equal(t, "b2@example.com", envelopes[1].Message.ID)
	assert.Equal(t, 1, f.GetStats().Rejected)
}

func TestStreamMissingFile(t *testing.T) {
	reader, err := NewReader(filepath.Join(t.TempDir(), "missing.mbox"), nil, nil)
	require.NoError(t, err)

	err = reader.Stream(context.Background(), make(chan model.Envelope, 1))
	assert.ErrorContains(t, err, "open mbox")
}

func TestStreamHonoursCancellation(t *testing.T) {
	reader, err := NewReader(writeArchive(t, archive), nil, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, reader.Stream(ctx, make(chan model.Envelope)), context.Canceled)
}

func TestNewReaderRejectsEmptyPath(t *testing.T) {
	_, err := NewReader("  ", nil, nil)
	assert.Error(t, err)
}

func TestReadAndCount(t *testing.T) {
	path := writeArchive(t, archive)

	count, err := CountMessages(path)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	var subjects int
	require.NoError(t, Read(path, func(raw []byte) error {
		if len(raw) > 0 {
			subjects++
		}
		return nil
	}))
	assert.Equal(t, 3, subjects)
}
