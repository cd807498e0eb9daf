// Package vmafsearch calibrates the constant-quality value for an item by
// encoding a short sample at candidate CQ values and scoring each candidate
// against the source with libvmaf, bisecting toward a target score.
package vmafsearch
