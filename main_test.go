package main

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhcgn/readreply/config"
	"github.com/dhcgn/readreply/imap"
	"github.com/dhcgn/readreply/smtp"
)

func TestNewDeliverer(t *testing.T) {
	cfg := config.Config{
		Delivery: config.DeliverySMTP,
		SMTPHost: "smtp.example.com",
		SMTPPort: 587,
		IMAPHost: "imap.example.com",
		IMAPPort: 993,
		DryRun:   true,
	}

	d, err := newDeliverer(cfg, nil)
	require.NoError(t, err)
	assert.Nil(t, d)

	cfg.DryRun = false
	d, err = newDeliverer(cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &smtp.Sender{}, d)

	cfg.Delivery = config.DeliveryDrafts
	d, err = newDeliverer(cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &imap.DraftWriter{}, d)

	cfg.SendRate = -1
	cfg.Delivery = config.DeliverySMTP
	_, err = newDeliverer(cfg, nil)
	assert.Error(t, err)
}

func TestSetupLoggerWritesLogFile(t *testing.T) {
	dir := t.TempDir()

	logger, cleanup, err := setupLogger(config.Config{LogLevel: "debug", LogDir: dir})
	require.NoError(t, err)
	logger.Debug("hello")
	require.NoError(t, cleanup())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Name(), "readreply-")
}
