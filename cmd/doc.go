// Package cmd implements the command-line interface of pbwire. It provides
// commands to probe a server as an authenticated client and to run a
// development server.
//
// The package is organized into several subpackages:
//
//   - probe: ping and info, the client commands (each connection completes the security handshake first)
//   - serve: Commands for starting and configuring the server
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See pbwire -help for a list of all commands.
package cmd
