// Package streaming provides the buffering and backpressure pipeline for LLM
// response streams.
//
// The package deals with two consumption models and keeps them as distinct
// abstractions:
//
//   - Pull: utilities such as AccumulateText, TransformStream, AddBackpressure
//     and RateLimitStream operate on an llm.ChunkStream, where the caller
//     drives iteration chunk by chunk.
//   - Push: BufferedProcessor accepts chunks via AddChunk and delivers them to
//     a batch callback on a timer, backed by a fixed-capacity StreamBuffer
//     with an explicit overflow policy.
//
// Monitor observes either side: per-chunk size and latency, buffer
// utilization, overflow and backpressure counts, and derives throughput,
// percentile latency and textual tuning insights on demand.
//
// Invariant held throughout the package: a terminal chunk (finish or error)
// admitted into a StreamBuffer is never silently dropped, even at capacity.
// The AddBackpressure hard-overflow eviction path is the single documented
// exception; see its doc comment.
package streaming
