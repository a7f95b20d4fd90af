// Package icp contains the ledger primitives the Keygate client needs:
// principals in their textual form, ledger account identifiers derived from
// a principal and subaccount, and token amounts kept in e8s.
package icp
