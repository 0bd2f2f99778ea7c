// Package history implements the ordered, role tagged conversation log owned
// by the Agent.
//
// A History is append-only except for ReplaceRange, which the compressor uses
// to substitute an old prefix with a single summary message. Curated returns a
// projection with incomplete tool exchanges removed so the model never sees an
// assistant tool call without its tool-role response.
//
// Token accounting is pluggable through TokenEstimator. HeuristicEstimator is
// cheap and deterministic; TiktokenEstimator counts with the cl100k_base
// encoding and falls back to the heuristic when the encoding cannot load.
package history
