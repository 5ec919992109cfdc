// Package pipeline implements the Bronze, Silver and Gold processing stages.
//
// A document moves through the stages strictly in order. Each stage is a
// queue consumer: Bronze extracts text and metadata and enqueues Silver,
// Silver chunks and annotates the text in one atomic commit and enqueues
// Gold, and Gold delivers every chunk to the analytics, graph and vector
// targets with independent per-target status.
//
// Stages never call each other directly. The only handoff is a job on the
// next stage's durable queue, so ordering and retries stay auditable.
package pipeline
