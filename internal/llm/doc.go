// Package llm defines the completion interface the wallet agent talks to and
// hosts the provider adapters: anthropic and openai over HTTP, and
// pythonbridge for a local script speaking JSON on stdin/stdout.
package llm
