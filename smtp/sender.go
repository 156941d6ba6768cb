// Package smtp delivers composed replies to an SMTP submission server.
package smtp

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"
	"golang.org/x/time/rate"

	"github.com/dhcgn/readreply/mailparse"
	"github.com/dhcgn/readreply/reply"
)

type Options struct {
	Host               string
	Port               int
	Username           string
	Password           string
	InsecureSkipVerify bool
	// PerMinute limits how many messages are submitted per minute; 0 disables the limit.
	PerMinute int
}

type dialFunc func(mode reply.Mode, addr string, cfg *tls.Config) (*gosmtp.Client, error)

// Sender submits replies, one connection per message.
type Sender struct {
	opts    Options
	logger  *slog.Logger
	limiter *rate.Limiter
	dial    dialFunc
	now     func() time.Time
}

func NewSender(opts Options, logger *slog.Logger) (*Sender, error) {
	if opts.Host == "" {
		return nil, fmt.Errorf("smtp host is empty")
	}
	if opts.Port <= 0 || opts.Port > 65535 {
		return nil, fmt.Errorf("smtp port must be between 1 and 65535")
	}
	if opts.PerMinute < 0 {
		return nil, fmt.Errorf("smtp rate must not be negative")
	}

	s := &Sender{
		opts:   opts,
		logger: logger,
		dial:   dialMode,
		now:    time.Now,
	}
	if opts.PerMinute > 0 {
		s.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.PerMinute)), 1)
	}
	return s, nil
}

// Name identifies the transport in logs and stats.
func (s *Sender) Name() string {
	return "smtp"
}

// Deliver renders out and submits it. The transport mode comes from out.Mode.
func (s *Sender) Deliver(ctx context.Context, out reply.Outgoing) error {
	if len(out.Recipients) == 0 {
		return reply.ErrNoRecipient
	}
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	id := reply.NewMessageID(out.From)
	data, err := out.Bytes(reply.RenderOptions{Date: s.now(), MessageID: id})
	if err != nil {
		return fmt.Errorf("render reply: %w", err)
	}

	address := net.JoinHostPort(s.opts.Host, strconv.Itoa(s.opts.Port))
	tlsConfig := &tls.Config{
		ServerName:         s.opts.Host,
		InsecureSkipVerify: s.opts.InsecureSkipVerify,
		MinVersion:         tls.VersionTLS12,
	}

	client, err := s.dial(out.Mode, address, tlsConfig)
	if err != nil {
		return fmt.Errorf("dial smtp %s (%s): %w", address, out.Mode, err)
	}
	defer client.Close()

	stopClose := context.AfterFunc(ctx, func() {
		_ = client.Close()
	})
	defer stopClose()

	if s.opts.Username != "" {
		auth := sasl.NewPlainClient("", s.opts.Username, s.opts.Password)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth failed: %w", err)
		}
	}

	sender := envelopeSender(out.From)
	if err := client.SendMail(sender, out.Recipients, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	if err := client.Quit(); err != nil && s.logger != nil {
		s.logger.Debug("smtp quit failed", "err", err)
	}

	if s.logger != nil {
		s.logger.Debug("reply submitted", "address", address, "mode", out.Mode.String(), "messageID", id, "recipients", out.Recipients)
	}
	return nil
}

func dialMode(mode reply.Mode, addr string, cfg *tls.Config) (*gosmtp.Client, error) {
	if mode == reply.ModeStartTLS {
		return gosmtp.DialStartTLS(addr, cfg)
	}
	return gosmtp.DialTLS(addr, cfg)
}

func envelopeSender(from string) string {
	if _, addr := mailparse.ResolveAddress(from); addr != "" {
		return addr
	}
	return from
}
