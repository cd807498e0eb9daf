// Package workflow drives queue processing. A single loop promotes the
// earliest eligible pending item, walks it through calibration, planning,
// transcoding, and postprocess, and returns it to the queue as completed,
// errored, or cancelled. Pause stops pickup of new items only; the external
// encode processes of an in-flight item are never aborted by pause.
package workflow
