// Package gemini provides an ai.AIProvider backed by Google Gemini embeddings
// through the genai SDK.
package gemini
