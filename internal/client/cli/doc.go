// Package cli implements usagectl, the command-line client for submitting
// usage, checking a key and managing it through a web session.
package cli
