// Package console holds the terminal loops used by the command line tools:
// the chat prompt in front of the agent and the single-wallet shell.
package console
