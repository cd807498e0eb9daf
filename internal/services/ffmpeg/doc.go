// Package ffmpeg wraps the ffmpeg command line for encoding, sample
// extraction, VMAF scoring, and hardware encoder detection.
//
// It exposes a Client interface so stages and the calibration search can be
// tested against fakes while the CLI implementation shells out to the real
// binary and streams -progress output as typed updates.
package ffmpeg
