// Command importq is the CLI for the transcode import queue daemon.
package main
