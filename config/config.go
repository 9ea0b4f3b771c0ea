// SPDX-License-Identifier: GPL-3.0-or-later
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	DefaultImapPort = 993
	MaxEnvAccounts  = 5

	TlsImplicit = "tls"
	TlsStartTls = "starttls"
	TlsNone     = "none"

	FolderModeAll    = "all"
	FolderModeLeaves = "leaves"
)

type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = parsed
	return nil
}

type Account struct {
	Name string
	Host string
	Port int
	User string

	Password        string
	PasswordEnv     string
	PasswordKeyring string

	Tls                string
	InsecureSkipVerify bool
	Compress           bool
}

func (a Account) Address() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

type Config struct {
	Database       string
	DatabaseDriver string

	Accounts []Account `toml:"Account"`

	RetentionDays     int
	IngestConcurrency int
	PrimaryFolder     string
	FolderMode        string
	FolderDelay       Duration
	KeepaliveInterval Duration
	ReconnectBackoff  Duration

	WebhookUrl      string
	SlackWebhookUrl string
	NotifyInterval  Duration

	SpamassassinHost string
	RspamdController string
	RspamdPassword   string

	ApiListen string

	Loglevel *string
}

func defaultConfig() *Config {
	return &Config{
		Database:          "indexer.db",
		DatabaseDriver:    "sqlite3",
		RetentionDays:     30,
		IngestConcurrency: 8,
		PrimaryFolder:     "INBOX",
		FolderMode:        FolderModeAll,
		FolderDelay:       Duration{time.Second},
		KeepaliveInterval: Duration{15 * time.Minute},
		ReconnectBackoff:  Duration{30 * time.Second},
		NotifyInterval:    Duration{2 * time.Second},
		ApiListen:         ":3001",
	}
}

// ReadConfig loads filename if it exists and then applies the environment. A missing file is only an
// error if the environment does not configure any account either.
func ReadConfig(filename string) (*Config, error) {
	config := defaultConfig()

	_, err := os.Stat(filename)
	if err == nil {
		_, err = toml.DecodeFile(filename, config)
		if err != nil {
			return nil, fmt.Errorf("could not read config file: %w", err)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("could not stat config file: %w", err)
	}

	err = config.applyEnv(os.Getenv)
	if err != nil {
		return nil, err
	}

	config.applyAccountDefaults()

	err = config.validate()
	if err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	for i := 1; i <= MaxEnvAccounts; i++ {
		prefix := fmt.Sprintf("ACCOUNT_%d_", i)
		name := getenv(prefix + "NAME")
		if len(strings.TrimSpace(name)) == 0 {
			continue
		}

		account := Account{
			Name:     name,
			Host:     getenv(prefix + "HOST"),
			User:     getenv(prefix + "USER"),
			Password: getenv(prefix + "PASS"),
		}
		if port := getenv(prefix + "PORT"); len(port) > 0 {
			p, err := strconv.Atoi(port)
			if err != nil {
				return fmt.Errorf("%sPORT must be a number: %w", prefix, err)
			}
			account.Port = p
		}

		c.Accounts = append(c.Accounts, account)
	}

	if days := getenv("FETCH_DAYS"); len(days) > 0 {
		d, err := strconv.Atoi(days)
		if err != nil {
			return fmt.Errorf("FETCH_DAYS must be a number: %w", err)
		}
		c.RetentionDays = d
	}
	if url := getenv("WEBHOOK_URL"); len(url) > 0 {
		c.WebhookUrl = url
	}
	if url := getenv("SLACK_WEBHOOK_URL"); len(url) > 0 {
		c.SlackWebhookUrl = url
	}
	if port := getenv("PORT"); len(port) > 0 {
		c.ApiListen = ":" + port
	}

	return nil
}

func (c *Config) applyAccountDefaults() {
	for i := range c.Accounts {
		if c.Accounts[i].Port == 0 {
			c.Accounts[i].Port = DefaultImapPort
		}
		if len(c.Accounts[i].Tls) == 0 {
			c.Accounts[i].Tls = TlsImplicit
		}
	}
}

func (c *Config) validate() error {
	if err := validateNonEmptyStringField(c.Database, "Database name must not be empty, set to a filename for the sqlite database"); err != nil {
		return err
	}

	if c.DatabaseDriver != "sqlite3" && c.DatabaseDriver != "sqlite" {
		return fmt.Errorf("DatabaseDriver must be sqlite3 or sqlite, got %q", c.DatabaseDriver)
	}

	if len(c.Accounts) == 0 {
		return errors.New("no accounts configured, add an [[Account]] table or set ACCOUNT_1_NAME")
	}

	seen := map[string]bool{}
	for _, a := range c.Accounts {
		if err := a.validate(); err != nil {
			return err
		}
		key := strings.ToLower(strings.TrimSpace(a.Name))
		if seen[key] {
			return fmt.Errorf("account name %q is used more than once", a.Name)
		}
		seen[key] = true
	}

	if c.RetentionDays <= 0 {
		return errors.New("RetentionDays must be positive")
	}
	if c.IngestConcurrency <= 0 {
		return errors.New("IngestConcurrency must be positive")
	}
	if err := validateNonEmptyStringField(c.PrimaryFolder, "PrimaryFolder must not be empty, set to the folder watched for new mail"); err != nil {
		return err
	}
	if c.FolderMode != FolderModeAll && c.FolderMode != FolderModeLeaves {
		return fmt.Errorf("FolderMode must be %s or %s, got %q", FolderModeAll, FolderModeLeaves, c.FolderMode)
	}
	if c.KeepaliveInterval.Duration <= 0 || c.ReconnectBackoff.Duration <= 0 {
		return errors.New("KeepaliveInterval and ReconnectBackoff must be positive")
	}
	if c.FolderDelay.Duration < 0 || c.NotifyInterval.Duration < 0 {
		return errors.New("FolderDelay and NotifyInterval must not be negative")
	}

	spamassassinSet := len(strings.TrimSpace(c.SpamassassinHost)) > 0
	rspamdSet := len(strings.TrimSpace(c.RspamdController)) > 0
	if rspamdSet && spamassassinSet {
		return fmt.Errorf("SpamassassinHost and RspamdController cannot be set at the same time")
	}
	if rspamdSet {
		if err := validateNonEmptyStringField(c.RspamdPassword, "RspamdPassword must be set if RspamdController is set"); err != nil {
			return err
		}
	}

	return nil
}

func (a Account) validate() error {
	if err := validateNonEmptyStringField(a.Name, "Account Name must not be empty"); err != nil {
		return err
	}
	if err := validateNonEmptyStringField(a.Host, fmt.Sprintf("Host of account %s must not be empty, set to the imap server name", a.Name)); err != nil {
		return err
	}
	if err := validateNonEmptyStringField(a.User, fmt.Sprintf("User of account %s must not be empty, set to username on the imap server", a.Name)); err != nil {
		return err
	}
	if a.Port <= 0 || a.Port > 65535 {
		return fmt.Errorf("Port of account %s is out of range: %d", a.Name, a.Port)
	}
	switch a.Tls {
	case TlsImplicit, TlsStartTls, TlsNone:
	default:
		return fmt.Errorf("Tls of account %s must be one of tls, starttls, none", a.Name)
	}
	if len(a.Password) == 0 && len(a.PasswordEnv) == 0 && len(a.PasswordKeyring) == 0 {
		return fmt.Errorf("account %s needs one of Password, PasswordEnv or PasswordKeyring", a.Name)
	}

	return nil
}

func validateNonEmptyStringField(field string, err string) error {
	if len(strings.TrimSpace(field)) == 0 {
		return errors.New(err)
	}

	return nil
}
