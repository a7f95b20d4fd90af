// Package keygate is the client for the external Keygate wallet service.
//
// A Client owns one identity and one network endpoint. Init opens the session
// and, on local replicas, fetches the root key. Every call after that is a
// signed Envelope sent over JSON-RPC: queries go to keygate_query, updates to
// keygate_call. Update calls that were sent are never reported as retryable,
// since the service may already have applied them.
package keygate
