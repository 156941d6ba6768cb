package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dhcgn/readreply/cmd"
	"github.com/dhcgn/readreply/config"
	"github.com/dhcgn/readreply/filter"
	"github.com/dhcgn/readreply/imap"
	"github.com/dhcgn/readreply/mbox"
	"github.com/dhcgn/readreply/progress"
	"github.com/dhcgn/readreply/runner"
	"github.com/dhcgn/readreply/smtp"
	"github.com/dhcgn/readreply/stats"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "readreply",
		Short:        "Answer personal mail in a mailbox and skip bulk mail",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cmd)
			if err != nil {
				return err
			}

			logger, cleanup, err := setupLogger(cfg)
			if err != nil {
				return err
			}
			defer func() {
				_ = cleanup()
			}()

			slog.SetDefault(logger)
			logger.Info("starting readreply",
				"source", cfg.Source,
				"delivery", cfg.Delivery,
				"from", cfg.SMTPFrom,
				"dryRun", cfg.DryRun,
			)

			return run(cfg, logger)
		},
	}

	if err := config.RegisterFlags(rootCmd); err != nil {
		fmt.Fprintf(os.Stderr, "failed to register CLI flags: %v\n", err)
		os.Exit(1)
	}
	rootCmd.AddCommand(cmd.NewTriageStatsCmd(), cmd.NewCredentialCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	deliverer, err := newDeliverer(cfg, logger)
	if err != nil {
		return err
	}

	opts := []runner.Option{}
	if deliverer != nil {
		opts = append(opts, runner.WithDeliverer(deliverer))
	}
	r, err := runner.New(cfg, logger, opts...)
	if err != nil {
		return fmt.Errorf("runner.New: %w", err)
	}
	stats.NewReporter(r, logger)

	f, err := filter.New(filter.Options{
		IncludeHeader: cfg.IncludeHeader,
		IncludeBody:   cfg.IncludeBody,
		ExcludeHeader: cfg.ExcludeHeader,
		ExcludeBody:   cfg.ExcludeBody,
	})
	if err != nil {
		return fmt.Errorf("filter.New: %w", err)
	}

	total := 0
	switch cfg.Source {
	case config.SourceMbox:
		if total, err = mbox.CountMessages(cfg.MboxPath); err != nil {
			return fmt.Errorf("mbox.CountMessages: %w", err)
		}
		if _, err := mbox.NewProducer(cfg.MboxPath, f, r, logger); err != nil {
			return fmt.Errorf("mbox.NewProducer: %w", err)
		}
	case config.SourceIMAP:
		sourceOpts := imap.SourceOptions{
			Options:  imapOptions(cfg),
			Folder:   cfg.IMAPFolder,
			MarkSeen: cfg.MarkSeen && !cfg.DryRun,
			Limit:    cfg.FetchLimit,
		}
		if _, err := imap.NewProducer(sourceOpts, f, r, logger); err != nil {
			return fmt.Errorf("imap.NewProducer: %w", err)
		}
	}

	progress.NewProgressReporter(r, progress.New(total, cfg.LogLevel), logger)

	signals, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		select {
		case <-signals.Done():
			logger.Warn("interrupted, stopping")
			r.Stop()
		case <-r.Context().Done():
		}
	}()

	return r.Start()
}

// newDeliverer returns nil in dry-run mode.
func newDeliverer(cfg config.Config, logger *slog.Logger) (runner.Deliverer, error) {
	if cfg.DryRun {
		return nil, nil
	}

	switch cfg.Delivery {
	case config.DeliveryDrafts:
		writer, err := imap.NewDraftWriter(imapOptions(cfg), cfg.DraftsFolder, logger)
		if err != nil {
			return nil, fmt.Errorf("imap.NewDraftWriter: %w", err)
		}
		return writer, nil
	default:
		sender, err := smtp.NewSender(smtp.Options{
			Host:               cfg.SMTPHost,
			Port:               cfg.SMTPPort,
			Username:           cfg.SMTPUser,
			Password:           cfg.SMTPPass,
			InsecureSkipVerify: cfg.InsecureSkipVerify,
			PerMinute:          cfg.SendRate,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("smtp.NewSender: %w", err)
		}
		return sender, nil
	}
}

func imapOptions(cfg config.Config) imap.Options {
	return imap.Options{
		Host:               cfg.IMAPHost,
		Port:               cfg.IMAPPort,
		Username:           cfg.IMAPUser,
		Password:           cfg.IMAPPass,
		UseTLS:             cfg.UseTLS,
		StartTLS:           cfg.StartTLS,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	}
}

func setupLogger(cfg config.Config) (*slog.Logger, func() error, error) {
	level := new(slog.LevelVar)
	level.Set(slog.LevelInfo)

	switch cfg.LogLevel {
	case "debug":
		level.Set(slog.LevelDebug)
	case "info":
		level.Set(slog.LevelInfo)
	case "warn":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	}

	opts := &slog.HandlerOptions{Level: level}
	cleanup := func() error { return nil }

	if cfg.LogDir != "" {
		if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
			return nil, cleanup, err
		}

		logFilePath := filepath.Join(cfg.LogDir, fmt.Sprintf("readreply-%s.log", time.Now().Format("20060102T150405")))
		file, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, cleanup, err
		}

		handler := slog.NewTextHandler(io.MultiWriter(os.Stdout, file), opts)
		cleanup = func() error {
			return file.Close()
		}
		return slog.New(handler), cleanup, nil
	}

	handler := slog.NewTextHandler(os.Stdout, opts)
	return slog.New(handler), cleanup, nil
}
