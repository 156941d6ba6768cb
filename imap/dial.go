package imap

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"

	imapv2 "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
)

// Options describes one IMAP account.
type Options struct {
	Host               string
	Port               int
	Username           string
	Password           string
	UseTLS             bool
	StartTLS           bool
	InsecureSkipVerify bool
}

func (o Options) validate() error {
	if o.Host == "" {
		return fmt.Errorf("imap host is empty")
	}
	if o.Port <= 0 {
		return fmt.Errorf("imap port must be positive")
	}
	return nil
}

func (o Options) security() string {
	switch {
	case o.UseTLS:
		return "tls"
	case o.StartTLS:
		return "starttls"
	default:
		return "none"
	}
}

// dial connects and logs in. The returned cleanup logs out and closes the
// connection; cancelling ctx closes it early.
func dial(ctx context.Context, opts Options, logger *slog.Logger) (*imapclient.Client, func(), error) {
	address := net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port))
	options := &imapclient.Options{}
	if opts.UseTLS || opts.StartTLS {
		options.TLSConfig = &tls.Config{
			ServerName:         opts.Host,
			InsecureSkipVerify: opts.InsecureSkipVerify,
			MinVersion:         tls.VersionTLS12,
		}
	}

	var (
		client *imapclient.Client
		err    error
	)
	switch {
	case opts.UseTLS:
		client, err = imapclient.DialTLS(address, options)
	case opts.StartTLS:
		client, err = imapclient.DialStartTLS(address, options)
	default:
		client, err = imapclient.DialInsecure(address, options)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("dial imap %s: %w", address, err)
	}

	if err := client.Login(opts.Username, opts.Password).Wait(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("imap login failed: %w", err)
	}

	if logger != nil {
		logger.Debug("imap connection established", "address", address, "user", opts.Username, "security", opts.security())
	}

	stopClose := context.AfterFunc(ctx, func() {
		_ = client.Close()
	})

	cleanup := func() {
		stopClose()
		if ctx.Err() == nil {
			if err := client.Logout().Wait(); err != nil && logger != nil {
				logger.Warn("imap logout failed", "err", err)
			}
		}
		if err := client.Close(); err != nil && logger != nil {
			logger.Debug("imap connection closed", "err", err)
		}
	}

	return client, cleanup, nil
}

// ensureMailbox creates name unless the server reports it already exists.
func ensureMailbox(client *imapclient.Client, name string, logger *slog.Logger) error {
	if err := client.Create(name, nil).Wait(); err != nil {
		var respErr *imapv2.Error
		if errors.As(err, &respErr) && respErr.Code == imapv2.ResponseCodeAlreadyExists {
			if logger != nil {
				logger.Debug("imap mailbox already exists", "mailbox", name)
			}
			return nil
		}
		return fmt.Errorf("ensure mailbox %s: %w", name, err)
	}

	if logger != nil {
		logger.Info("imap mailbox created", "mailbox", name)
	}
	return nil
}
