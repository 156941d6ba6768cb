package imap

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	imapv2 "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/dhcgn/readreply/reply"
)

// DraftWriter stores rendered replies in a drafts folder instead of sending
// them, leaving the final send to a human.
type DraftWriter struct {
	opts   Options
	folder string
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	client  *imapclient.Client
	cleanup func()
}

func NewDraftWriter(opts Options, folder string, logger *slog.Logger) (*DraftWriter, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if folder == "" {
		folder = "Drafts"
	}
	return &DraftWriter{opts: opts, folder: folder, logger: logger, now: time.Now}, nil
}

func (d *DraftWriter) Name() string {
	return "drafts"
}

// Deliver appends out to the drafts folder with the \Draft flag. The
// connection is opened on first use and kept until Close.
func (d *DraftWriter) Deliver(ctx context.Context, out reply.Outgoing) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.client == nil {
		client, cleanup, err := dial(ctx, d.opts, d.logger)
		if err != nil {
			return err
		}
		if err := ensureMailbox(client, d.folder, d.logger); err != nil {
			cleanup()
			return err
		}
		d.client, d.cleanup = client, cleanup
	}

	date := d.now()
	data, err := out.Bytes(reply.RenderOptions{Date: date, MessageID: reply.NewMessageID(out.From)})
	if err != nil {
		return fmt.Errorf("render draft: %w", err)
	}

	if err := appendMessage(d.client, d.folder, data, date); err != nil {
		// The connection is suspect after a failed append; the next reply redials.
		d.reset()
		return err
	}

	if d.logger != nil {
		d.logger.Debug("draft stored", "mailbox", d.folder, "to", out.To, "subject", out.Subject)
	}
	return nil
}

func (d *DraftWriter) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reset()
	return nil
}

// reset drops the current connection. Callers hold d.mu.
func (d *DraftWriter) reset() {
	if d.cleanup != nil {
		d.cleanup()
	}
	d.client, d.cleanup = nil, nil
}

func appendMessage(client *imapclient.Client, mailbox string, raw []byte, date time.Time) error {
	opts := &imapv2.AppendOptions{
		Flags: []imapv2.Flag{imapv2.FlagDraft},
		Time:  date,
	}
	cmd := client.Append(mailbox, int64(len(raw)), opts)

	remaining := raw
	for len(remaining) > 0 {
		n, err := cmd.Write(remaining)
		if err != nil {
			_ = cmd.Close()
			return fmt.Errorf("append write: %w", err)
		}
		if n == 0 {
			_ = cmd.Close()
			return fmt.Errorf("append write: wrote 0 bytes")
		}
		remaining = remaining[n:]
	}

	if err := cmd.Close(); err != nil {
		return fmt.Errorf("append close: %w", err)
	}
	if _, err := cmd.Wait(); err != nil {
		return fmt.Errorf("append wait: %w", err)
	}
	return nil
}
