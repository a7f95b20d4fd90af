// Package identity loads the secp256k1 identity file that authenticates every
// Keygate call, derives the caller principal from its public key and signs
// request envelopes.
package identity
