// Package api exposes the HTTP surface of the keygated daemon: job submission
// and lookup, the persisted wallet list, synchronous agent messages, a health
// probe and the Prometheus scrape endpoint.
package api
