package node

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mosaicnetworks/sitesync/src/common"
	"github.com/mosaicnetworks/sitesync/src/synchronizer"
)

// Config ...
type Config struct {
	// Sync configures the synchronizer.
	Sync synchronizer.Config

	// SyncInterval is the period of the automatic synchronizations. 0 means
	// the node only synchronizes when asked to.
	SyncInterval time.Duration

	Logger *logrus.Entry
}

// DefaultConfig ...
func DefaultConfig() *Config {
	sconf := synchronizer.NewDefaultConfig()

	return &Config{
		Sync:   *sconf,
		Logger: sconf.Logger,
	}
}

// TestConfig returns a configuration suited to tests: no pause between
// rounds and logs routed to t.
func TestConfig(t testing.TB) *Config {
	conf := DefaultConfig()
	conf.Logger = common.NewTestEntry(t, logrus.DebugLevel)
	conf.Sync.Logger = conf.Logger
	conf.Sync.RoundDelay = 0
	conf.Sync.MaxRounds = 20
	return conf
}
