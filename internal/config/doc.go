// Package config loads and validates the YAML configuration for the
// assistant backend.
package config
