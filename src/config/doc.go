// Package config defines the configuration for a ledgerd node.
//
// Regardless of how ledgerd is started, directly from Go code or as a
// standalone process from the command line, it uses the Config object defined
// in this package to store and forward configuration options. On top of these
// configuration options, ledgerd relies on a data directory, defined by
// Config.DataDir, where it expects to find a few additional files:
//
//  ledgerd.toml // (optional) configuration file, cf. ledgerd config.
//  priv_key     // (optional) archive signing key, cf. ledgerd keygen.
//  badger_db/   // the default database directory.
package config
