package mbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	mboxlib "github.com/emersion/go-mbox"

	"github.com/dhcgn/readreply/filter"
	"github.com/dhcgn/readreply/mailparse"
	"github.com/dhcgn/readreply/model"
	"github.com/dhcgn/readreply/runner"
)

type Reader interface {
	Stream(ctx context.Context, out chan<- model.Envelope) error
}

// NewReader returns a Reader over the archive at path. A nil filter lets every
// message through.
func NewReader(path string, f *filter.Filter, logger *slog.Logger) (Reader, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("mbox path is empty")
	}
	return &fileReader{path: path, filter: f, logger: logger}, nil
}

type fileReader struct {
	path   string
	filter *filter.Filter
	logger *slog.Logger
}

func (f *fileReader) Stream(ctx context.Context, out chan<- model.Envelope) error {
	file, err := os.Open(f.path)
	if err != nil {
		return fmt.Errorf("open mbox: %w", err)
	}
	defer file.Close()

	reader := mboxlib.NewReader(file)
	for idx := 0; ; idx++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		msgReader, err := reader.NextMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return f.emitError(ctx, out, fmt.Errorf("message %d: %w", idx, err))
		}

		raw, err := io.ReadAll(msgReader)
		if err != nil {
			return f.emitError(ctx, out, fmt.Errorf("message %d read: %w", idx, err))
		}

		if f.filter != nil && !f.filter.AllowsRaw(raw) {
			if f.logger != nil {
				f.logger.Debug("message filtered", "index", idx)
			}
			continue
		}

		if err := f.emitEnvelope(ctx, out, model.Envelope{Message: newMessage(raw)}); err != nil {
			return err
		}
	}
}

func newMessage(raw []byte) model.Message {
	id, date := mailparse.Identify(raw)
	return model.Message{
		ID:         id,
		Hash:       model.Fingerprint(raw),
		ReceivedAt: date,
		Size:       int64(len(raw)),
		Raw:        raw,
	}
}

func (f *fileReader) emitError(ctx context.Context, out chan<- model.Envelope, err error) error {
	if f.logger != nil {
		f.logger.Error("mbox stream error", "path", f.path, "err", err)
	}
	return f.emitEnvelope(ctx, out, model.Envelope{Err: err})
}

func (f *fileReader) emitEnvelope(ctx context.Context, out chan<- model.Envelope, env model.Envelope) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case out <- env:
		return nil
	}
}

type Producer struct {
	reader Reader
	runner *runner.Runner
}

// NewProducer registers the archive at path as the source of r.
func NewProducer(path string, f *filter.Filter, r *runner.Runner, logger *slog.Logger) (*Producer, error) {
	reader, err := NewReader(path, f, logger)
	if err != nil {
		return nil, err
	}
	producer := &Producer{reader: reader, runner: r}
	r.AddSource("mbox", producer.run)
	return producer, nil
}

func (p *Producer) run(ctx context.Context) error {
	return p.reader.Stream(ctx, p.runner.MailboxWriter())
}

// Read opens an mbox file and calls fn with the raw bytes of every message.
// Unreadable messages are skipped.
func Read(path string, fn func(raw []byte) error) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open mbox: %w", err)
	}
	defer file.Close()

	reader := mboxlib.NewReader(file)
	for {
		msgReader, err := reader.NextMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		raw, err := io.ReadAll(msgReader)
		if err != nil {
			continue
		}

		if err := fn(raw); err != nil {
			return err
		}
	}
}

// CountMessages counts the total number of messages in an mbox file.
func CountMessages(path string) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open mbox: %w", err)
	}
	defer file.Close()

	reader := mboxlib.NewReader(file)
	count := 0
	for {
		msgReader, err := reader.NextMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return count, nil
			}
			return 0, err
		}

		// A message that cannot be drained still counts.
		_, _ = io.Copy(io.Discard, msgReader)
		count++
	}
}
