// Package transcoding plans and executes the per-item encode fan-out: one
// video task per video stream and one audio task per audio stream, run
// through two bounded pools sized for hardware encode slots and CPU audio
// workers.
package transcoding
