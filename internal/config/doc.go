// Package config loads the deployer configuration from a JSON file, applies
// defaults relative to the file location and lets environment variables
// override connection strings and signing secrets.
package config
