// Package chunking splits extracted document text into ordered, overlapping chunks.
//
// Text is first normalized (line endings, runs of blanks, blank-line runs) and
// then split either paragraph by paragraph or with a plain character splitter.
// Every chunk is a slice of the normalized text, so its Start and End offsets
// index directly into Normalize(input).
//
// Token budgets are measured with a TokenCounter. The default counter
// approximates one token per four characters; NewTiktokenCounter provides a
// BPE counter for callers that need exact counts.
//
// Chunks smaller than the quality gate (MinQualityTokens tokens or
// MinQualityChars characters) are still returned, flagged with
// BelowQualityGate so callers can decide how to react.
package chunking
