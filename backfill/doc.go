// Package backfill re-enqueues a pipeline stage for many documents at once,
// e.g. after changing a category's chunking settings or bringing a target
// store online.
//
// Documents are read in batches, filtered by the stage's precondition and
// queued with exponential backoff on enqueue errors. Progress is written to
// an io.Writer.
package backfill
