// Package config loads plugin settings from YAML and ESMINIFY__ environment
// variables with koanf and validates them.
package config
