// Package config holds usagectl settings. Values are layered: defaults,
// then an optional JSON file, then environment variables. Command-line
// flags are applied last by the cli package.
package config
