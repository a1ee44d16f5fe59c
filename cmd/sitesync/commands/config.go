package commands

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// AddNetworkFlags adds the flags of the commands that join the federation
func AddNetworkFlags(cmd *cobra.Command) {
	// Network
	cmd.Flags().StringP("listen", "l", _config.BindAddr, "Listen IP:Port for the site")
	cmd.Flags().StringP("advertise", "a", _config.AdvertiseAddr, "Advertise IP:Port for the site")
	cmd.Flags().DurationP("timeout", "t", _config.TCPTimeout, "TCP Timeout")
	cmd.Flags().Int("max-pool", _config.MaxPool, "Connection pool size max")

	// Synchronization
	cmd.Flags().Int("exchange-size", _config.ExchangeSize, "Max number of messages per pull")
	cmd.Flags().Duration("round-delay", _config.RoundDelay, "Pause after a round that pushed messages")
	cmd.Flags().Int64("bootstrap-threshold", _config.BootstrapThreshold, "Local public sequence number below which the whole history is pushed")
	cmd.Flags().Int("coordinator", _config.CoordinatorID, "Id of the central site")
	cmd.Flags().Int("max-rounds", _config.MaxRounds, "Max number of rounds per synchronization (0 = unbounded)")
}

func loadConfig(cmd *cobra.Command, args []string) error {
	err := bindFlagsLoadViper(cmd)
	if err != nil {
		return err
	}

	// If --datadir was explicitely set, but not --db, this will update the
	// default database dir to be inside the new datadir
	_config.SetDataDir(_config.DataDir)

	logFields := logrus.Fields{
		"DataDir":            _config.DataDir,
		"LocalSiteID":        _config.LocalSiteID,
		"BindAddr":           _config.BindAddr,
		"AdvertiseAddr":      _config.AdvertiseAddr,
		"ServiceAddr":        _config.ServiceAddr,
		"NoService":          _config.NoService,
		"MaxPool":            _config.MaxPool,
		"TCPTimeout":         _config.TCPTimeout,
		"ExchangeSize":       _config.ExchangeSize,
		"RoundDelay":         _config.RoundDelay,
		"BootstrapThreshold": _config.BootstrapThreshold,
		"CoordinatorID":      _config.CoordinatorID,
		"MaxRounds":          _config.MaxRounds,
		"SyncInterval":       _config.SyncInterval,
		"Store":              _config.Store,
		"LogLevel":           _config.LogLevel,
		"LogFile":            _config.LogFile,
	}

	if _config.Store {
		logFields["DatabaseDir"] = _config.DatabaseDir
	}

	_config.Logger().WithFields(logFields).Debug("Config")

	return nil
}

// Bind all flags and read the config into viper
func bindFlagsLoadViper(cmd *cobra.Command) error {
	// Register flags with viper. Include flags from this command and all other
	// persistent flags from the parent
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// first unmarshal to read from CLI flags
	if err := viper.Unmarshal(_config); err != nil {
		return err
	}

	// look for config file in [datadir]/sitesync.toml (.json, .yaml also work)
	viper.SetConfigName("sitesync")      // name of config file (without extension)
	viper.AddConfigPath(_config.DataDir) // search root directory

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		_config.Logger().Debugf("Using config file: %s", viper.ConfigFileUsed())
	} else if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		_config.Logger().Debugf("No config file found in: %s", _config.DataDir)
	} else {
		return err
	}

	// second unmarshal to read from config file
	return viper.Unmarshal(_config)
}
