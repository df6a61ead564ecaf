// Package protocol owns the escape-delimited wire contract spoken with the core.
//
// Ownership boundary:
// - framing primitives (escape handling, data chunks, string lists)
// - request encoding, one message in flight at a time
// - response decoding and tolerant skipping of unknown message types
// - the wire-level error taxonomy
//
// The core side of the contract (request decoding, response encoding) lives
// here as well so that fakes and tests share one grammar.
package protocol
