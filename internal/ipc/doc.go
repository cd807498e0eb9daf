// Package ipc exposes the daemon command surface over JSON-RPC on a Unix
// domain socket.
package ipc
