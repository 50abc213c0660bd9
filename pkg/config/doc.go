// Package config loads service configuration from environment variables,
// with an optional YAML keyring file for encryption key rotation.
package config
