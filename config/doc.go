// Package config loads the TOML configuration of a strata deployment.
//
// Values are resolved in order: built-in defaults, the configuration file,
// then STRATA_* environment variables. The result is validated before use.
package config
