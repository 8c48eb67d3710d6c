// ABOUTME: Package documentation for the discovery package
// ABOUTME: Describes process scanning and liveness probing

// Package discovery finds running agent processes and answers liveness
// queries for the sweep loop.
//
// A scan matches the configured executable name exactly against each
// process's binary base name, skips our own process and its ancestors, and
// registers any PID the registry has not seen as a new idle agent. Scanning
// only ever creates records; marking dead processes offline is the monitor's
// job.
package discovery
