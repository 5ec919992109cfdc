// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package ai provides the embedding generator used by the vector target.
//
// The pipeline depends only on the Embedder interface. Concrete backends live
// in sub-packages:
//
//   - ai/openai: OpenAI-compatible APIs (OpenAI, Ollama, LocalAI, vLLM) via langchaingo
//   - ai/gemini: Google Gemini embeddings via the genai SDK
//   - ai/mock: deterministic test doubles
//
// Embedding failures are always returned as errors. The vector target has no
// fallback, so callers mark the delivery FAILED rather than SKIPPED.
//
// # Rate Limiting
//
// A single embedding backend is easy to overload. NewRateLimitedEmbedder wraps
// any Embedder with a token bucket:
//
//	provider, err := openai.NewProvider(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer provider.Close()
//
//	embedder := ai.NewRateLimitedEmbedder(provider.Embedder(), cfg.RequestsPerSecond, cfg.Burst)
//	vec, err := embedder.EmbedText(ctx, "chunk text")
package ai
