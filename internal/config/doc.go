// Package config handles YAML configuration loading with environment variable
// substitution and overrides.
//
// Configuration files support ${VAR} syntax for environment variable
// interpolation. HUDDLE_* variables override file values, so a deployment can
// run from the environment alone. Missing required settings are fatal at
// startup; there is no degraded mode.
package config
