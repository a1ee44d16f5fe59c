package synchronizer

import (
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultExchangeSize is the max number of messages requested per pull.
	DefaultExchangeSize = 128
	// DefaultRoundDelay is the pause after a round that pushed messages.
	DefaultRoundDelay = 10 * time.Second
	// DefaultBootstrapThreshold is the local public sequence number below
	// which a site is considered freshly bootstrapped.
	DefaultBootstrapThreshold = 64
	// DefaultCoordinatorID is the central site.
	DefaultCoordinatorID = 0
)

// Config contains the configuration of a Synchronizer.
type Config struct {
	// ExchangeSize is the max number of messages requested per pull.
	ExchangeSize int

	// RoundDelay is how long to wait, after a round that pushed messages,
	// for peers to process them before the next round. 0 disables the pause.
	RoundDelay time.Duration

	// BootstrapThreshold: while the local public sequence number is below
	// this value and the coordinator holds private messages newer than its
	// last public one, every run starts by pushing the whole local history.
	BootstrapThreshold int64

	// CoordinatorID is the site whose cursors trigger the bootstrap
	// broadcast.
	CoordinatorID int

	// MaxRounds bounds the number of rounds of a run. 0 means unbounded.
	MaxRounds int

	// Clock is used for the pause between rounds.
	Clock clockwork.Clock

	// Metrics, if not nil, mirrors the statistics of every run.
	Metrics *Metrics

	Logger *logrus.Entry
}

// NewDefaultConfig returns the default configuration.
func NewDefaultConfig() *Config {
	log := logrus.New()
	log.Level = logrus.InfoLevel

	return &Config{
		ExchangeSize:       DefaultExchangeSize,
		RoundDelay:         DefaultRoundDelay,
		BootstrapThreshold: DefaultBootstrapThreshold,
		CoordinatorID:      DefaultCoordinatorID,
		Clock:              clockwork.NewRealClock(),
		Logger:             logrus.NewEntry(log),
	}
}
