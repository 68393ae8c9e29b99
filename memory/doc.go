// Package memory holds the per-user working memory and the recall
// engine that fills it from the long-term vector collections.
//
// Long-term memory is split into three tiers, each a named vector
// collection:
//   - episodic: the user's past exchanges, tagged with their user id
//   - declarative: ingested documents and knowledge, shared by all users
//   - procedural: embedded tool descriptions, shared by all users
//
// Architecture:
//   - WorkingMemoryList: one mutable WorkingMemory per user id
//   - VectorStore: storage backend (chromem-go locally, anything that
//     can upsert/query/delete by collection in production)
//   - Embedder: text-to-vector conversion (ONNX locally, API-based in
//     production)
//   - RecallEngine: computes per-tier retrieval parameters, queries the
//     tiers, and writes results back into working memory
//
// Recall is hook-customizable at five points: the query text, a global
// pre-recall point, one per-tier config point, and a global post-recall
// point.
package memory
