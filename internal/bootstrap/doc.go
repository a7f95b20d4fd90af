// Package bootstrap turns a loaded configuration into the components the
// Keygate binaries share: the Keygate client and wallet service, wallet and job
// stores, job queues, LLM providers, the agent, alert channels and API auth.
package bootstrap
