// Package redis builds the go-redis client shared by the wallet registry and
// the job queue when the daemon is configured with the redis drivers.
package redis
