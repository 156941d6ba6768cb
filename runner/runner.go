package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dhcgn/readreply/classify"
	"github.com/dhcgn/readreply/config"
	"github.com/dhcgn/readreply/mailparse"
	"github.com/dhcgn/readreply/model"
	"github.com/dhcgn/readreply/reply"
	"github.com/dhcgn/readreply/state"
	"github.com/dhcgn/readreply/stats"
)

// ErrNoSource is returned by Start when no stage feeds the mailbox channel.
var ErrNoSource = errors.New("no message source registered")

// NamePlaceholder in the reply text is replaced with the sender's display name.
const NamePlaceholder = "{{name}}"

type StageFunc func(context.Context) error

// Deliverer hands a composed reply to a transport.
type Deliverer interface {
	Name() string
	Deliver(ctx context.Context, out reply.Outgoing) error
}

// Reply is a composed answer travelling from triage to delivery.
type Reply struct {
	Source    model.Message
	Canonical model.CanonicalMessage
	Outgoing  reply.Outgoing
}

type Option func(*Runner)

// WithClassifier replaces the bulk policy.
func WithClassifier(fn classify.Func) Option {
	return func(r *Runner) { r.classify = fn }
}

// WithDeliverer sets the transport. Without one, replies are only logged.
func WithDeliverer(d Deliverer) Option {
	return func(r *Runner) { r.deliverer = d }
}

// WithLedger replaces the file ledger rooted at the configured state dir.
func WithLedger(l state.Ledger) Option {
	return func(r *Runner) { r.ledger = l }
}

type namedStage struct {
	name string
	fn   StageFunc
}

type subscriber struct {
	name   string
	fn     func(context.Context, <-chan stats.Event) error
	events chan stats.Event
}

type Runner struct {
	cfg    config.Config
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	messages chan model.Envelope
	replies  chan Reply

	ledger    state.Ledger
	classify  classify.Func
	deliverer Deliverer
	transport reply.TransportConfig

	stages      []namedStage
	subscribers []*subscriber
	hasSource   bool

	workWG  sync.WaitGroup
	statsWG sync.WaitGroup

	errMu sync.Mutex
	err   error

	closeMailboxOnce sync.Once
	closeRepliesOnce sync.Once
	closeEventsOnce  sync.Once
	since            time.Time
}

func New(cfg config.Config, logger *slog.Logger, opts ...Option) (*Runner, error) {
	ctx, cancel := context.WithCancel(context.Background())

	r := &Runner{
		cfg:       cfg,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		messages:  make(chan model.Envelope, 32),
		replies:   make(chan Reply, 32),
		classify:  classify.Evaluate,
		transport: cfg.Transport(),
	}
	for _, opt := range opts {
		opt(r)
	}

	if r.ledger == nil {
		ledger, err := state.NewFileLedger(cfg.StateDir, !cfg.DryRun)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("reply ledger: %w", err)
		}
		r.ledger = ledger
	}

	r.stages = append(r.stages,
		namedStage{name: "triage", fn: r.triage},
		namedStage{name: "deliver", fn: r.deliver},
	)
	return r, nil
}

func (r *Runner) Context() context.Context {
	return r.ctx
}

func (r *Runner) MailboxWriter() chan<- model.Envelope {
	return r.messages
}

func (r *Runner) CloseMailbox() {
	r.closeMailboxOnce.Do(func() {
		close(r.messages)
	})
}

// Stop cancels the run. Stages drain and Start returns.
func (r *Runner) Stop() {
	r.cancel()
}

// EmitEvent fans evt out to every subscriber.
func (r *Runner) EmitEvent(evt stats.Event) {
	for _, sub := range r.subscribers {
		select {
		case <-r.ctx.Done():
			return
		case sub.events <- evt:
		}
	}
}

// SubscribeStats registers fn to receive every event. Must be called before Start.
func (r *Runner) SubscribeStats(name string, fn func(context.Context, <-chan stats.Event) error) {
	r.subscribers = append(r.subscribers, &subscriber{
		name:   name,
		fn:     fn,
		events: make(chan stats.Event, 128),
	})
}

// AddStage registers a stage. Must be called before Start.
func (r *Runner) AddStage(name string, fn StageFunc) {
	r.stages = append(r.stages, namedStage{name: name, fn: fn})
}

// AddSource registers the stage that writes to MailboxWriter. The mailbox is
// closed when fn returns.
func (r *Runner) AddSource(name string, fn StageFunc) {
	r.hasSource = true
	r.AddStage(name, func(ctx context.Context) error {
		defer r.CloseMailbox()
		return fn(ctx)
	})
}

// Start launches subscribers and stages and blocks until the pipeline drained.
func (r *Runner) Start() error {
	if !r.hasSource {
		r.cancel()
		r.closeLedger()
		return ErrNoSource
	}

	r.since = time.Now()

	for _, sub := range r.subscribers {
		r.statsWG.Add(1)
		go func(sub *subscriber) {
			defer r.statsWG.Done()
			if err := sub.fn(r.ctx, sub.events); err != nil && !errors.Is(err, context.Canceled) {
				r.fail(fmt.Errorf("%s stats: %w", sub.name, err))
			}
		}(sub)
	}

	for _, stage := range r.stages {
		r.workWG.Add(1)
		go func(stage namedStage) {
			defer r.workWG.Done()
			if err := stage.fn(r.ctx); err != nil && !errors.Is(err, context.Canceled) {
				r.fail(fmt.Errorf("%s stage: %w", stage.name, err))
			}
		}(stage)
	}

	r.workWG.Wait()
	r.closeEvents()
	r.statsWG.Wait()

	if closer, ok := r.deliverer.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			r.logger.Warn("close deliverer", "err", err)
		}
	}
	r.cancel()
	r.closeLedger()

	err := r.err
	duration := time.Since(r.since)
	if err != nil {
		r.logger.Error("pipeline failed", "duration", duration, "err", err)
		return err
	}

	r.logger.Info("pipeline completed", "duration", duration)
	return nil
}

func (r *Runner) triage(ctx context.Context) error {
	defer r.closeReplies()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case envelope, ok := <-r.messages:
			if !ok {
				return nil
			}

			if envelope.Err != nil {
				r.EmitEvent(stats.Event{Stage: stats.StageSource, Type: stats.EventTypeError, Err: envelope.Err})
				r.logger.Warn("skipping unreadable message", "err", envelope.Err)
				continue
			}

			rep, ok := r.process(envelope.Message)
			if !ok {
				continue
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case r.replies <- rep:
			}
		}
	}
}

func (r *Runner) process(msg model.Message) (Reply, bool) {
	r.EmitEvent(stats.Event{Stage: stats.StageSource, Type: stats.EventTypeScanned, MessageID: msg.ID})

	if msg.Hash != "" && r.ledger.Replied(msg.Hash) {
		r.EmitEvent(stats.Event{Stage: stats.StageTriage, Type: stats.EventTypeDuplicate, MessageID: msg.ID})
		return Reply{}, false
	}

	canonical, err := mailparse.Normalize(msg.Raw)
	if err != nil {
		r.EmitEvent(stats.Event{Stage: stats.StageTriage, Type: stats.EventTypeInvalid, MessageID: msg.ID, Err: err})
		r.logger.Info("skipping message without sender", "messageId", msg.ID, "uid", msg.UID, "err", err)
		return Reply{}, false
	}

	if verdict := r.classify(canonical); verdict.Bulk {
		r.EmitEvent(stats.Event{Stage: stats.StageTriage, Type: stats.EventTypeBulk, MessageID: canonical.MessageID, Detail: string(verdict.Rule)})
		r.logger.Debug("skipping bulk message", "messageId", canonical.MessageID, "from", canonical.FromEmail, "rule", verdict.Rule)
		return Reply{}, false
	}

	req := reply.FromCanonical(canonical, r.replyBody(canonical), r.cfg.CC)
	out, err := reply.Compose(req, r.transport)
	if err != nil {
		err = fmt.Errorf("compose reply for %s: %w", canonical.FromEmail, err)
		r.EmitEvent(stats.Event{Stage: stats.StageTriage, Type: stats.EventTypeError, MessageID: canonical.MessageID, Err: err})
		r.logger.Warn("cannot compose reply", "messageId", canonical.MessageID, "err", err)
		return Reply{}, false
	}

	r.EmitEvent(stats.Event{Stage: stats.StageTriage, Type: stats.EventTypeComposed, MessageID: canonical.MessageID})
	return Reply{Source: msg, Canonical: canonical, Outgoing: out}, true
}

func (r *Runner) replyBody(msg model.CanonicalMessage) string {
	return strings.ReplaceAll(r.cfg.ReplyBody, NamePlaceholder, msg.FromName)
}

func (r *Runner) deliver(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case rep, ok := <-r.replies:
			if !ok {
				return nil
			}
			if err := r.deliverOne(ctx, rep); err != nil {
				return err
			}
		}
	}
}

// deliverOne returns an error only for failures that must stop the run.
func (r *Runner) deliverOne(ctx context.Context, rep Reply) error {
	out := rep.Outgoing
	id := rep.Canonical.MessageID

	if r.cfg.DryRun || r.deliverer == nil {
		r.logger.Info("dry-run reply",
			"to", out.To,
			"cc", out.Cc,
			"subject", out.Subject,
			"inReplyTo", out.InReplyTo,
			"mode", out.Mode,
		)
		r.EmitEvent(stats.Event{Stage: stats.StageDeliver, Type: stats.EventTypeDryRun, MessageID: id})
		return nil
	}

	if err := r.deliverer.Deliver(ctx, out); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err = fmt.Errorf("deliver reply to %s: %w", out.To, err)
		r.EmitEvent(stats.Event{Stage: stats.StageDeliver, Type: stats.EventTypeError, MessageID: id, Err: err})
		r.logger.Warn("reply delivery failed", "messageId", id, "transport", r.deliverer.Name(), "err", err)
		return nil
	}

	if rep.Source.Hash != "" {
		entry := state.Entry{Hash: rep.Source.Hash, MessageID: id, To: out.To, RepliedAt: time.Now().UTC()}
		if err := r.ledger.MarkReplied(entry); err != nil {
			r.EmitEvent(stats.Event{Stage: stats.StageDeliver, Type: stats.EventTypeError, MessageID: id, Err: err})
			return fmt.Errorf("record reply: %w", err)
		}
	}

	r.EmitEvent(stats.Event{Stage: stats.StageDeliver, Type: stats.EventTypeDelivered, MessageID: id, Detail: r.deliverer.Name()})
	r.logger.Info("reply delivered", "messageId", id, "to", out.To, "transport", r.deliverer.Name())
	return nil
}

func (r *Runner) closeReplies() {
	r.closeRepliesOnce.Do(func() {
		close(r.replies)
	})
}

func (r *Runner) closeEvents() {
	r.closeEventsOnce.Do(func() {
		for _, sub := range r.subscribers {
			close(sub.events)
		}
	})
}

func (r *Runner) closeLedger() {
	closer, ok := r.ledger.(io.Closer)
	if !ok {
		return
	}
	if err := closer.Close(); err != nil {
		r.logger.Warn("close reply ledger", "err", err)
	}
}

func (r *Runner) fail(err error) {
	if err == nil {
		return
	}
	r.errMu.Lock()
	if r.err == nil {
		r.err = err
		r.cancel()
	}
	r.errMu.Unlock()
}
