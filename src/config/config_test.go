package config

import (
	"io/ioutil"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetDataDir(t *testing.T) {
	conf := NewDefaultConfig()
	conf.SetDataDir("/tmp/site1")
	assert.Equal(t, filepath.Join("/tmp/site1", DefaultBadgerFile), conf.DatabaseDir)

	conf.DatabaseDir = "/var/db"
	conf.SetDataDir("/tmp/site2")
	assert.Equal(t, "/var/db", conf.DatabaseDir)
}

func TestSyncConfig(t *testing.T) {
	conf := NewTestConfig(t, logrus.DebugLevel)
	conf.ExchangeSize = 16
	conf.RoundDelay = time.Second
	conf.CoordinatorID = 3
	conf.MaxRounds = 7

	sc := conf.SyncConfig()
	assert.Equal(t, 16, sc.ExchangeSize)
	assert.Equal(t, time.Second, sc.RoundDelay)
	assert.Equal(t, int64(DefaultBootstrapThreshold), sc.BootstrapThreshold)
	assert.Equal(t, 3, sc.CoordinatorID)
	assert.Equal(t, 7, sc.MaxRounds)
	assert.NotNil(t, sc.Clock)
}

func TestLogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sitesync.log")

	conf := NewDefaultConfig()
	conf.LogLevel = "info"
	conf.LogFile = path

	logger := conf.Logger()
	assert.Equal(t, logrus.InfoLevel, logger.Logger.Level)

	logger.WithField("site_id", 4).Info("hello")
	logger.Debug("not written")

	data, err := ioutil.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"site_id":4`)
	assert.Contains(t, string(data), `"prefix":"sitesync"`)
	assert.NotContains(t, string(data), "not written")
}

func TestLogLevel(t *testing.T) {
	assert.Equal(t, logrus.WarnLevel, LogLevel("warn"))
	assert.Equal(t, logrus.DebugLevel, LogLevel("chatty"))
}
