// Package daemon ties the queue store, workflow manager, and command surface
// into a single-instance background process.
package daemon
