// Package api is the command surface of the daemon. Every queue mutation a
// caller can perform goes through QueueService, which validates preconditions
// against the persisted item state before touching the store. The IPC server
// and the CLI both consume this package so transport and policy stay apart.
package api
