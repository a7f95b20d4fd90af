// Package task queues wallet jobs for the daemon. Jobs are persisted in a
// Store (memory or MySQL), their IDs travel through a Queue (in-process
// channel, Redis list or RabbitMQ) and a Processor hands each claimed job to
// the wallet executor. Transfers and wallet creation are never re-queued once
// they have been attempted.
package task
