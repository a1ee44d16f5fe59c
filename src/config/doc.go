// Package config defines the configuration of a sitesync daemon.
//
// The same Config is populated from command line flags and from an optional
// sitesync.toml (or .json, .yaml) file in the data directory.
package config
