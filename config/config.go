/*
Package config loads runtime configuration for the ledger CLI.

PRECEDENCE (highest first):
  1. Command-line flags
  2. LEDGER_* environment variables (a .env file in the working
     directory is loaded into the environment first)
  3. Config file (--config, or ledger.yaml in the working directory)
  4. Defaults

KEYS:
  data_dir        directory holding ledger.json / state.json   ./data
  backend         file | sqlite                                 file
  sqlite_path     database file for the sqlite backend          <data_dir>/ledger.db
  backup_dir      rolling backups                               <data_dir>/backups
  backup_keep     number of backups retained                    10
  reports_dir     generated report records                      <data_dir>/reports
  catalog_path    catalog file loaded at startup                (none)
  business_name   fallback business name                        My Business
  recipient       where summary reports are delivered           (none)
  timezone        zone of stored timestamps                     Local
  log_level       debug | info | warn | error                   info
  queue_size      dispatcher queue capacity                     64
  notify_timeout  per-notification timeout                      30s
*/
package config

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const EnvPrefix = "LEDGER"

const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Config is the resolved configuration.
type Config struct {
	DataDir       string        `mapstructure:"data_dir"`
	Backend       string        `mapstructure:"backend"`
	SQLitePath    string        `mapstructure:"sqlite_path"`
	BackupDir     string        `mapstructure:"backup_dir"`
	BackupKeep    int           `mapstructure:"backup_keep"`
	ReportsDir    string        `mapstructure:"reports_dir"`
	CatalogPath   string        `mapstructure:"catalog_path"`
	BusinessName  string        `mapstructure:"business_name"`
	Recipient     string        `mapstructure:"recipient"`
	Timezone      string        `mapstructure:"timezone"`
	LogLevel      string        `mapstructure:"log_level"`
	QueueSize     int           `mapstructure:"queue_size"`
	NotifyTimeout time.Duration `mapstructure:"notify_timeout"`
}

// flagKeys maps flag names to config keys.
var flagKeys = map[string]string{
	"data-dir":       "data_dir",
	"backend":        "backend",
	"sqlite-path":    "sqlite_path",
	"backup-dir":     "backup_dir",
	"backup-keep":    "backup_keep",
	"reports-dir":    "reports_dir",
	"catalog":        "catalog_path",
	"business-name":  "business_name",
	"recipient":      "recipient",
	"timezone":       "timezone",
	"log-level":      "log_level",
	"queue-size":     "queue_size",
	"notify-timeout": "notify_timeout",
}

// RegisterFlags adds the configuration flags to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("data-dir", "", "Data directory (default ./data)")
	fs.String("backend", "", "Storage backend: file or sqlite")
	fs.String("sqlite-path", "", "SQLite database path")
	fs.String("backup-dir", "", "Backup directory")
	fs.Int("backup-keep", 0, "Number of backups to keep")
	fs.String("reports-dir", "", "Report records directory")
	fs.String("catalog", "", "Catalog file (YAML or JSON)")
	fs.String("business-name", "", "Fallback business name")
	fs.String("recipient", "", "Summary report recipient")
	fs.String("timezone", "", "Time zone of ledger timestamps (IANA name)")
	fs.String("log-level", "", "Log level: debug, info, warn, error")
	fs.Int("queue-size", 0, "Dispatcher queue capacity")
	fs.Duration("notify-timeout", 0, "Timeout per notification")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", "./data")
	v.SetDefault("backend", BackendFile)
	v.SetDefault("sqlite_path", "")
	v.SetDefault("backup_dir", "")
	v.SetDefault("backup_keep", 10)
	v.SetDefault("reports_dir", "")
	v.SetDefault("catalog_path", "")
	v.SetDefault("business_name", "My Business")
	v.SetDefault("recipient", "")
	v.SetDefault("timezone", "Local")
	v.SetDefault("log_level", "info")
	v.SetDefault("queue_size", 64)
	v.SetDefault("notify_timeout", 30*time.Second)
}

// Load resolves configuration. cfgFile may be empty; flags may be nil.
// Only flags that were set on the command line override other sources.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", cfgFile, err)
		}
	} else {
		v.SetConfigName("ledger")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil && f.Changed {
				if err := v.BindPFlag(key, f); err != nil {
					return Config{}, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.applyDerived()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDerived() {
	c.Backend = strings.ToLower(strings.TrimSpace(c.Backend))
	if c.SQLitePath == "" {
		c.SQLitePath = filepath.Join(c.DataDir, "ledger.db")
	}
	if c.BackupDir == "" {
		c.BackupDir = filepath.Join(c.DataDir, "backups")
	}
	if c.ReportsDir == "" {
		c.ReportsDir = filepath.Join(c.DataDir, "reports")
	}
}

// Validate checks values that cannot be defaulted.
func (c Config) Validate() error {
	if c.DataDir == "" {
		return errors.New("config: data_dir is required")
	}
	if c.Backend != BackendFile && c.Backend != BackendSQLite {
		return fmt.Errorf("config: unknown backend %q (want %s or %s)", c.Backend, BackendFile, BackendSQLite)
	}
	if c.BackupKeep < 1 {
		return fmt.Errorf("config: backup_keep must be at least 1, got %d", c.BackupKeep)
	}
	if c.QueueSize < 1 {
		return fmt.Errorf("config: queue_size must be at least 1, got %d", c.QueueSize)
	}
	if c.NotifyTimeout <= 0 {
		return fmt.Errorf("config: notify_timeout must be positive, got %s", c.NotifyTimeout)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Location resolves Timezone. "Local" and "" mean the system zone.
func (c Config) Location() (*time.Location, error) {
	if c.Timezone == "" || strings.EqualFold(c.Timezone, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("config: timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// NewLogger builds the application logger at the configured level.
func (c Config) NewLogger(w io.Writer) *log.Logger {
	level, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		level = log.InfoLevel
	}
	return log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		Prefix:          "ledger",
		Level:           level,
	})
}
