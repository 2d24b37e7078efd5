// Package app contains the core application logic. It wires configuration,
// the workspace, the cache and the executor into one run, decoupled from
// any specific entrypoint like a CLI.
package app
