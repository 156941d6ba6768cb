package imap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	imapv2 "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/dhcgn/readreply/filter"
	"github.com/dhcgn/readreply/mailparse"
	"github.com/dhcgn/readreply/model"
	"github.com/dhcgn/readreply/runner"
)

// fetchBatch bounds how many messages are held in memory per FETCH.
const fetchBatch = 25

type SourceOptions struct {
	Options
	Folder   string
	MarkSeen bool
	// Limit caps the number of unseen messages taken per run; 0 takes all.
	Limit int
}

// Reader streams the unseen messages of one mailbox.
type Reader struct {
	opts   SourceOptions
	filter *filter.Filter
	logger *slog.Logger
}

func NewReader(opts SourceOptions, f *filter.Filter, logger *slog.Logger) (*Reader, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if opts.Folder == "" {
		opts.Folder = "INBOX"
	}
	return &Reader{opts: opts, filter: f, logger: logger}, nil
}

// Stream fetches every unseen message without touching its flags, writes it to
// out and, with MarkSeen, flags it \Seen once out accepted it.
func (r *Reader) Stream(ctx context.Context, out chan<- model.Envelope) error {
	client, cleanup, err := dial(ctx, r.opts.Options, r.logger)
	if err != nil {
		return err
	}
	defer cleanup()

	selectOpts := &imapv2.SelectOptions{ReadOnly: !r.opts.MarkSeen}
	if _, err := client.Select(r.opts.Folder, selectOpts).Wait(); err != nil {
		return fmt.Errorf("select %s: %w", r.opts.Folder, err)
	}

	search, err := client.UIDSearch(&imapv2.SearchCriteria{
		NotFlag: []imapv2.Flag{imapv2.FlagSeen},
	}, nil).Wait()
	if err != nil {
		return fmt.Errorf("search unseen: %w", err)
	}

	uids := limitUIDs(search.AllUIDs(), r.opts.Limit)
	if r.logger != nil {
		r.logger.Info("unseen messages", "mailbox", r.opts.Folder, "count", len(uids))
	}

	for _, batch := range batches(uids, fetchBatch) {
		messages, err := r.fetch(client, batch)
		if err != nil {
			return err
		}
		for _, msg := range messages {
			if r.filter != nil && !r.filter.AllowsRaw(msg.Raw) {
				if r.logger != nil {
					r.logger.Debug("message filtered", "uid", msg.UID)
				}
				continue
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case out <- model.Envelope{Message: msg}:
			}

			if r.opts.MarkSeen {
				if err := markSeen(client, msg.UID); err != nil {
					return err
				}
			}
		}
	}

	return nil
}

func (r *Reader) fetch(client *imapclient.Client, uids []imapv2.UID) ([]model.Message, error) {
	section := &imapv2.FetchItemBodySection{Peek: true}
	fetchCmd := client.Fetch(imapv2.UIDSetNum(uids...), &imapv2.FetchOptions{
		UID:          true,
		InternalDate: true,
		BodySection:  []*imapv2.FetchItemBodySection{section},
	})
	defer fetchCmd.Close()

	var messages []model.Message
	for {
		data := fetchCmd.Next()
		if data == nil {
			break
		}
		buf, err := data.Collect()
		if err != nil {
			if r.logger != nil {
				r.logger.Warn("fetch message failed", "err", err)
			}
			continue
		}
		raw := buf.FindBodySection(section)
		if raw == nil {
			continue
		}
		messages = append(messages, newMessage(uint32(buf.UID), buf.InternalDate, raw))
	}

	if err := fetchCmd.Close(); err != nil {
		return messages, fmt.Errorf("fetch messages: %w", err)
	}
	return messages, nil
}

// newMessage dates the message by its Date header, falling back to the
// server's internal date.
func newMessage(uid uint32, internalDate time.Time, raw []byte) model.Message {
	id, date := mailparse.Identify(raw)
	if date.IsZero() {
		date = internalDate
	}
	return model.Message{
		ID:         id,
		Hash:       model.Fingerprint(raw),
		UID:        uid,
		ReceivedAt: date,
		Size:       int64(len(raw)),
		Raw:        raw,
	}
}

func markSeen(client *imapclient.Client, uid uint32) error {
	err := client.Store(imapv2.UIDSetNum(imapv2.UID(uid)), &imapv2.StoreFlags{
		Op:     imapv2.StoreFlagsAdd,
		Silent: true,
		Flags:  []imapv2.Flag{imapv2.FlagSeen},
	}, nil).Close()
	if err != nil {
		return fmt.Errorf("mark uid %d seen: %w", uid, err)
	}
	return nil
}

func limitUIDs(uids []imapv2.UID, limit int) []imapv2.UID {
	if limit > 0 && len(uids) > limit {
		return uids[:limit]
	}
	return uids
}

func batches(uids []imapv2.UID, size int) [][]imapv2.UID {
	var out [][]imapv2.UID
	for len(uids) > 0 {
		n := min(size, len(uids))
		out = append(out, uids[:n])
		uids = uids[n:]
	}
	return out
}

type Producer struct {
	reader *Reader
	runner *runner.Runner
}

// NewProducer registers the unseen messages of opts.Folder as the source of r.
func NewProducer(opts SourceOptions, f *filter.Filter, r *runner.Runner, logger *slog.Logger) (*Producer, error) {
	reader, err := NewReader(opts, f, logger)
	if err != nil {
		return nil, err
	}
	producer := &Producer{reader: reader, runner: r}
	r.AddSource("imap", producer.run)
	return producer, nil
}

func (p *Producer) run(ctx context.Context) error {
	return p.reader.Stream(ctx, p.runner.MailboxWriter())
}
