// Package config loads the mint agent configuration from a JSON file,
// optional .env files and environment variables, filling defaults relative to
// the configuration directory.
package config
