// Package annotate derives pattern-based annotations from chunk text: typed
// entities with confidences and offsets, a section hierarchy from markdown
// headings and numbered outlines, and table/image presence flags.
//
// Every function here is pure and safe for concurrent use.
package annotate
