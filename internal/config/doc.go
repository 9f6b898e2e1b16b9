// Package config loads, validates and persists the mwfaas configuration,
// including the endpoint inventory and API key managed by the CLI.
package config
