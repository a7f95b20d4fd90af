// Package wallet is the session facade over the Keygate client. A Service
// owns one client for its lifetime, records every wallet it creates in a
// Store and funds new wallets when a Funder is configured.
package wallet
