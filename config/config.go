package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dhcgn/readreply/credential"
	"github.com/dhcgn/readreply/reply"
)

// EnvPrefix prefixes the environment variable of every flag, e.g.
// READREPLY_IMAP_HOST for --imap-host.
const EnvPrefix = "READREPLY"

const (
	SourceIMAP = "imap"
	SourceMbox = "mbox"

	DeliverySMTP   = "smtp"
	DeliveryDrafts = "drafts"
)

// Config captures all options required to triage a mailbox and answer it.
type Config struct {
	Source             string
	MboxPath           string
	IMAPHost           string
	IMAPPort           int
	IMAPUser           string
	IMAPPass           string
	UseTLS             bool
	StartTLS           bool
	InsecureSkipVerify bool
	IMAPFolder         string
	MarkSeen           bool
	FetchLimit         int
	Delivery           string
	DraftsFolder       string
	SMTPHost           string
	SMTPPort           int
	SMTPUser           string
	SMTPPass           string
	SMTPFrom           string
	SendRate           int
	CC                 string
	ReplyBody          string
	StateDir           string
	DryRun             bool
	LogLevel           string
	LogDir             string
	UseKeyring         bool
	KeyringService     string
	IncludeHeader      []string
	IncludeBody        []string
	ExcludeHeader      []string
	ExcludeBody        []string
}

// Transport returns the outgoing server settings used to compose replies.
func (c Config) Transport() reply.TransportConfig {
	return reply.TransportConfig{
		Host:        c.SMTPHost,
		Port:        c.SMTPPort,
		Username:    c.SMTPUser,
		Password:    c.SMTPPass,
		FromAddress: c.SMTPFrom,
	}
}

// RegisterFlags attaches all CLI flags to the provided command.
func RegisterFlags(cmd *cobra.Command) error {
	defaultStateDir, err := defaultStateDir()
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	flags.String("env-file", ".env", "Optional dotenv file loaded before reading READREPLY_* variables")
	flags.String("source", SourceIMAP, "Where messages come from: imap or mbox")
	flags.String("mbox", "", "Path to an .mbox file (with --source mbox)")
	flags.String("imap-host", "", "IMAP server hostname")
	flags.Int("imap-port", 993, "IMAP server port")
	flags.String("imap-user", "", "IMAP username")
	flags.String("imap-pass", "", "IMAP password (falls back to IMAP_PASS env var and the keyring)")
	flags.Bool("use-tls", true, "Use implicit TLS for the IMAP connection")
	flags.Bool("starttls", false, "Upgrade a plaintext IMAP connection with STARTTLS (when --use-tls=false)")
	flags.Bool("insecure-skip-verify", false, "Skip TLS certificate verification (not recommended)")
	flags.String("imap-folder", "INBOX", "Mailbox scanned for unseen messages")
	flags.Bool("mark-seen", true, "Flag fetched messages as \\Seen")
	flags.Int("fetch-limit", 0, "Maximum number of unseen messages per run (0 = all)")
	flags.String("delivery", DeliverySMTP, "How replies leave: smtp or drafts")
	flags.String("drafts-folder", "Drafts", "IMAP folder receiving replies (with --delivery drafts)")
	flags.String("smtp-host", "", "SMTP submission server hostname")
	flags.Int("smtp-port", 587, "SMTP port; 587 and 2525 use STARTTLS, others implicit TLS")
	flags.String("smtp-user", "", "SMTP username")
	flags.String("smtp-pass", "", "SMTP password (falls back to SMTP_PASS env var and the keyring)")
	flags.String("smtp-from", "", "From address of replies (defaults to --smtp-user when it is an address)")
	flags.Int("send-rate", 0, "Maximum replies submitted per minute (0 = unlimited)")
	flags.String("cc", "", "Carbon-copy recipient added to every reply")
	flags.String("reply-body", "", "Reply text; {{name}} is replaced with the sender's name")
	flags.String("reply-file", "", "File holding the reply text (overrides --reply-body)")
	flags.String("state-dir", defaultStateDir, "Directory holding the ledger of sent replies")
	flags.Bool("dry-run", false, "Classify and compose replies but only log them")
	flags.String("log-level", "info", "Logging level: debug, info, warn, error")
	flags.String("log-dir", "", "Also write logs to a timestamped file in this directory")
	flags.Bool("keyring", false, "Look up missing passwords in the OS keyring")
	flags.String("keyring-service", credential.DefaultService, "Keyring service name")
	flags.StringArray("include-header", nil, "Regex allow-list applied to message headers (mutually exclusive with exclude flags)")
	flags.StringArray("include-body", nil, "Regex allow-list applied to message bodies (mutually exclusive with exclude flags)")
	flags.StringArray("exclude-header", nil, "Regex block-list applied to message headers (mutually exclusive with include flags)")
	flags.StringArray("exclude-body", nil, "Regex block-list applied to message bodies (mutually exclusive with include flags)")

	return nil
}

// LoadConfig resolves flags, READREPLY_* environment variables and the dotenv
// file into a validated Config. Explicit flags win over the environment.
func LoadConfig(cmd *cobra.Command) (Config, error) {
	flags := cmd.Flags()

	envFile, err := flags.GetString("env-file")
	if err != nil {
		return Config{}, err
	}
	if err := loadEnvFile(envFile); err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(flags); err != nil {
		return Config{}, fmt.Errorf("bind flags: %w", err)
	}

	includeHeader, err := flags.GetStringArray("include-header")
	if err != nil {
		return Config{}, err
	}
	includeBody, err := flags.GetStringArray("include-body")
	if err != nil {
		return Config{}, err
	}
	excludeHeader, err := flags.GetStringArray("exclude-header")
	if err != nil {
		return Config{}, err
	}
	excludeBody, err := flags.GetStringArray("exclude-body")
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Source:             strings.ToLower(strings.TrimSpace(v.GetString("source"))),
		MboxPath:           strings.TrimSpace(v.GetString("mbox")),
		IMAPHost:           v.GetString("imap-host"),
		IMAPPort:           v.GetInt("imap-port"),
		IMAPUser:           v.GetString("imap-user"),
		IMAPPass:           v.GetString("imap-pass"),
		UseTLS:             v.GetBool("use-tls"),
		StartTLS:           v.GetBool("starttls"),
		InsecureSkipVerify: v.GetBool("insecure-skip-verify"),
		IMAPFolder:         v.GetString("imap-folder"),
		MarkSeen:           v.GetBool("mark-seen"),
		FetchLimit:         v.GetInt("fetch-limit"),
		Delivery:           strings.ToLower(strings.TrimSpace(v.GetString("delivery"))),
		DraftsFolder:       v.GetString("drafts-folder"),
		SMTPHost:           v.GetString("smtp-host"),
		SMTPPort:           v.GetInt("smtp-port"),
		SMTPUser:           v.GetString("smtp-user"),
		SMTPPass:           v.GetString("smtp-pass"),
		SMTPFrom:           strings.TrimSpace(v.GetString("smtp-from")),
		SendRate:           v.GetInt("send-rate"),
		CC:                 strings.TrimSpace(v.GetString("cc")),
		ReplyBody:          v.GetString("reply-body"),
		StateDir:           v.GetString("state-dir"),
		DryRun:             v.GetBool("dry-run"),
		LogLevel:           strings.ToLower(v.GetString("log-level")),
		LogDir:             v.GetString("log-dir"),
		UseKeyring:         v.GetBool("keyring"),
		KeyringService:     v.GetString("keyring-service"),
		IncludeHeader:      includeHeader,
		IncludeBody:        includeBody,
		ExcludeHeader:      excludeHeader,
		ExcludeBody:        excludeBody,
	}

	if cfg.IMAPPass == "" {
		cfg.IMAPPass = os.Getenv("IMAP_PASS")
	}
	if cfg.SMTPPass == "" {
		cfg.SMTPPass = os.Getenv("SMTP_PASS")
	}
	if cfg.UseKeyring {
		if err := fillFromKeyring(&cfg); err != nil {
			return Config{}, err
		}
	}

	if path := strings.TrimSpace(v.GetString("reply-file")); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read reply file: %w", err)
		}
		cfg.ReplyBody = string(data)
	}

	if cfg.SMTPFrom == "" && strings.Contains(cfg.SMTPUser, "@") {
		cfg.SMTPFrom = cfg.SMTPUser
	}

	if cfg.StateDir == "" {
		cfg.StateDir, err = defaultStateDir()
		if err != nil {
			return Config{}, err
		}
	}
	cfg.StateDir = filepath.Clean(cfg.StateDir)

	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func validateConfig(cfg Config) error {
	switch cfg.Source {
	case SourceMbox:
		if cfg.MboxPath == "" {
			return fmt.Errorf("--mbox is required with --source mbox")
		}
	case SourceIMAP:
		if err := validateIMAP(cfg); err != nil {
			return err
		}
	default:
		return fmt.Errorf("invalid --source: %s", cfg.Source)
	}

	switch cfg.Delivery {
	case DeliverySMTP:
		if !cfg.DryRun {
			if cfg.SMTPHost == "" {
				return fmt.Errorf("--smtp-host is required with --delivery smtp")
			}
			if cfg.SMTPPort <= 0 || cfg.SMTPPort > 65535 {
				return fmt.Errorf("--smtp-port must be between 1 and 65535")
			}
		}
	case DeliveryDrafts:
		if !cfg.DryRun {
			if err := validateIMAP(cfg); err != nil {
				return fmt.Errorf("--delivery drafts: %w", err)
			}
		}
	default:
		return fmt.Errorf("invalid --delivery: %s", cfg.Delivery)
	}

	if cfg.SMTPFrom == "" {
		return fmt.Errorf("--smtp-from is required")
	}
	if strings.TrimSpace(cfg.ReplyBody) == "" {
		return fmt.Errorf("a reply text is required via --reply-body or --reply-file")
	}
	if cfg.SendRate < 0 {
		return fmt.Errorf("--send-rate must not be negative")
	}
	if cfg.FetchLimit < 0 {
		return fmt.Errorf("--fetch-limit must not be negative")
	}

	includeActive := len(cfg.IncludeHeader) > 0 || len(cfg.IncludeBody) > 0
	excludeActive := len(cfg.ExcludeHeader) > 0 || len(cfg.ExcludeBody) > 0
	if includeActive && excludeActive {
		return fmt.Errorf("include and exclude flags are mutually exclusive")
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid --log-level: %s", cfg.LogLevel)
	}

	return nil
}

func validateIMAP(cfg Config) error {
	if cfg.IMAPHost == "" {
		return fmt.Errorf("--imap-host is required")
	}
	if cfg.IMAPUser == "" {
		return fmt.Errorf("--imap-user is required")
	}
	if cfg.IMAPPass == "" {
		return fmt.Errorf("IMAP password must be provided via --imap-pass, IMAP_PASS or the keyring")
	}
	if cfg.IMAPPort <= 0 || cfg.IMAPPort > 65535 {
		return fmt.Errorf("--imap-port must be between 1 and 65535")
	}
	return nil
}

func fillFromKeyring(cfg *Config) error {
	store, err := credential.Open(cfg.KeyringService)
	if err != nil {
		return err
	}
	if cfg.IMAPPass == "" && cfg.IMAPUser != "" {
		if cfg.IMAPPass, err = store.Get(credential.IMAPKey(cfg.IMAPUser)); err != nil && !errors.Is(err, credential.ErrNotFound) {
			return err
		}
	}
	if cfg.SMTPPass == "" && cfg.SMTPUser != "" {
		if cfg.SMTPPass, err = store.Get(credential.SMTPKey(cfg.SMTPUser)); err != nil && !errors.Is(err, credential.ErrNotFound) {
			return err
		}
	}
	return nil
}

// loadEnvFile loads path into the process environment without overriding
// variables that are already set. A missing file is not an error.
func loadEnvFile(path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

func defaultStateDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".readreply", "state"), nil
}
