// Package config handles configuration loading, parsing, and validation
// from environment variables and an optional config file. It provides
// type-safe access to the settings needed by the transaction manager, the
// job backends, and the HTTP server.
package config
