// Package cmd implements the command-line interface for the dSync record
// synchronization core. It provides a hierarchical command structure with
// operations for running a fleet node and interacting with the shared store
// as a client.
//
// The package is organized into several subpackages:
//
//   - lock: Commands for distributed lock operations (acquire, release, holder)
//   - record: Commands for direct record access on the shared store
//   - serve: Commands for starting and configuring a dSync node
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See dsync -help for a list of all commands.
package cmd
