// Package cmd implements the cobra command tree for the bidctl CLI: Builder ID
// login, token status and refresh, logout, local settings, configuration
// profiles and shell completion.
package cmd
