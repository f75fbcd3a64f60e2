// Package logging provides opt-in file-based logging with rotation.
// When --debug is set, comprehensive logs are written to ~/.janus/logs/
// for debugging and troubleshooting.
//
// By default (without --debug), logging is minimal and goes to stderr only.
package logging
