// Package cmd implements the command-line interface for the statesync
// synchronization core. It provides a hierarchical command structure with
// operations for running the core and measuring its performance.
//
// The package is organized into several subpackages:
//
//   - run: Commands for running the core with simulated subsystems
//   - perf: Commands for performance testing the core
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See statesync -help for a list of all commands.
package cmd
