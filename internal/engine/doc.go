// Package engine implements the request-coalescing download engine: an
// Engine façade that consults the disk cache, an InFlight Registry that keeps
// at most one Job per fingerprint, the Job state machine that drives
// fetch → persist → materialize → notify, and the per-Job callback bus that
// fans lifecycle events out to every attached subscriber in attachment order.
//
// Network transport, image decoding and rendering are collaborators supplied
// by the caller through the Fetcher, Decoder and Sink interfaces.
package engine
