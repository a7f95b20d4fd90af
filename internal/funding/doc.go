// Package funding tops up freshly created wallets on a local replica by
// shelling out to `dfx ledger transfer` with the minter identity.
package funding
