package config

import (
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"

	"github.com/mosaicnetworks/sitesync/src/common"
	"github.com/mosaicnetworks/sitesync/src/synchronizer"
)

// Default filenames.
const (
	// DefaultBadgerFile is the default name of the folder containing the Badger
	// database
	DefaultBadgerFile = "badger_db"
)

// Default configuration values.
const (
	DefaultLogLevel           = "debug"
	DefaultBindAddr           = "127.0.0.1:1337"
	DefaultServiceAddr        = "127.0.0.1:8000"
	DefaultTCPTimeout         = 1000 * time.Millisecond
	DefaultMaxPool            = 2
	DefaultStore              = false
	DefaultExchangeSize       = synchronizer.DefaultExchangeSize
	DefaultRoundDelay         = synchronizer.DefaultRoundDelay
	DefaultBootstrapThreshold = synchronizer.DefaultBootstrapThreshold
	DefaultCoordinatorID      = synchronizer.DefaultCoordinatorID
)

// Config contains all the configuration properties of a sitesync daemon.
type Config struct {
	// DataDir is the top-level directory containing sitesync configuration
	// and data. The site directory is read from sites.json in DataDir.
	DataDir string `mapstructure:"datadir"`

	// LogLevel determines the chattiness of the log output.
	LogLevel string `mapstructure:"log"`

	// LogFile, if set, receives a copy of every log entry, formatted as JSON.
	LogFile string `mapstructure:"log-file"`

	// LocalSiteID is the id of the local site in the site directory.
	LocalSiteID int `mapstructure:"site-id"`

	// BindAddr is the local address:port where this site answers the other
	// sites.
	BindAddr string `mapstructure:"listen"`

	// AdvertiseAddr is used to change the address that we advertise to other
	// sites.
	AdvertiseAddr string `mapstructure:"advertise"`

	// NoService disables the HTTP API service.
	NoService bool `mapstructure:"no-service"`

	// ServiceAddr is the address:port of the optional HTTP service.
	ServiceAddr string `mapstructure:"service-listen"`

	// TCPTimeout is the timeout of RPC connections.
	TCPTimeout time.Duration `mapstructure:"timeout"`

	// MaxPool controls how many connections are pooled per target.
	MaxPool int `mapstructure:"max-pool"`

	// ExchangeSize is the max number of messages requested per pull.
	ExchangeSize int `mapstructure:"exchange-size"`

	// RoundDelay is the pause after a synchronization round that pushed
	// messages.
	RoundDelay time.Duration `mapstructure:"round-delay"`

	// BootstrapThreshold is the local public sequence number below which a
	// synchronization starts by pushing the whole local history.
	BootstrapThreshold int64 `mapstructure:"bootstrap-threshold"`

	// CoordinatorID is the central site of the federation.
	CoordinatorID int `mapstructure:"coordinator"`

	// MaxRounds bounds the rounds of a synchronization. 0 means unbounded.
	MaxRounds int `mapstructure:"max-rounds"`

	// SyncInterval is the period of automatic synchronizations. 0 disables
	// them.
	SyncInterval time.Duration `mapstructure:"sync-interval"`

	// Store activates persistant storage.
	Store bool `mapstructure:"store"`

	// DatabaseDir is the directory containing database files.
	DatabaseDir string `mapstructure:"db"`

	logger *logrus.Logger
}

// NewDefaultConfig returns a config object with default values.
func NewDefaultConfig() *Config {
	config := &Config{
		DataDir:            DefaultDataDir(),
		LogLevel:           DefaultLogLevel,
		BindAddr:           DefaultBindAddr,
		ServiceAddr:        DefaultServiceAddr,
		TCPTimeout:         DefaultTCPTimeout,
		MaxPool:            DefaultMaxPool,
		ExchangeSize:       DefaultExchangeSize,
		RoundDelay:         DefaultRoundDelay,
		BootstrapThreshold: DefaultBootstrapThreshold,
		CoordinatorID:      DefaultCoordinatorID,
		Store:              DefaultStore,
		DatabaseDir:        DefaultDatabaseDir(),
	}

	return config
}

// NewTestConfig returns a config object with default values and a special
// logger for debugging tests.
func NewTestConfig(t testing.TB, level logrus.Level) *Config {
	config := NewDefaultConfig()
	config.logger = common.NewTestLogger(t, level)
	return config
}

// SetDataDir sets the top-level sitesync directory, and updates the database
// directory if it is currently set to the default value. If the database
// directory is not currently the default, it means the user has explicitely
// set it to something else, so avoid changing it again here.
func (c *Config) SetDataDir(dataDir string) {
	c.DataDir = dataDir
	if c.DatabaseDir == DefaultDatabaseDir() {
		c.DatabaseDir = filepath.Join(dataDir, DefaultBadgerFile)
	}
}

// SyncConfig returns the synchronizer configuration.
func (c *Config) SyncConfig() *synchronizer.Config {
	conf := synchronizer.NewDefaultConfig()
	conf.ExchangeSize = c.ExchangeSize
	conf.RoundDelay = c.RoundDelay
	conf.BootstrapThreshold = c.BootstrapThreshold
	conf.CoordinatorID = c.CoordinatorID
	conf.MaxRounds = c.MaxRounds
	conf.Logger = c.Logger()
	return conf
}

// Logger returns a formatted logrus Entry, with prefix set to "sitesync".
func (c *Config) Logger() *logrus.Entry {
	if c.logger == nil {
		c.logger = logrus.New()
		c.logger.Level = LogLevel(c.LogLevel)
		c.logger.Formatter = new(prefixed.TextFormatter)

		if c.LogFile != "" {
			c.logger.Hooks.Add(lfshook.NewHook(
				c.LogFile,
				&logrus.JSONFormatter{},
			))
		}
	}
	return c.logger.WithField("prefix", "sitesync")
}

// DefaultDatabaseDir returns the default path for the badger database files.
func DefaultDatabaseDir() string {
	return filepath.Join(DefaultDataDir(), DefaultBadgerFile)
}

// DefaultDataDir return the default directory name for top-level sitesync
// config based on the underlying OS, attempting to respect conventions.
func DefaultDataDir() string {
	// Try to place the data folder in the user's home dir
	home := HomeDir()
	if home != "" {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, ".SiteSync")
		} else if runtime.GOOS == "windows" {
			return filepath.Join(home, "AppData", "Roaming", "SiteSync")
		} else {
			return filepath.Join(home, ".sitesync")
		}
	}
	// As we cannot guess a stable location, return empty and handle later
	return ""
}

// HomeDir returns the user's home directory.
func HomeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	if usr, err := user.Current(); err == nil {
		return usr.HomeDir
	}
	return ""
}

// LogLevel parses a string into a Logrus log level.
func LogLevel(l string) logrus.Level {
	switch l {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	case "panic":
		return logrus.PanicLevel
	default:
		return logrus.DebugLevel
	}
}
