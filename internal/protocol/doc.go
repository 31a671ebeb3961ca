// Package protocol owns the wire contract between host and radio.
//
// Ownership boundary:
// - framing: byte-stream delimiting and resynchronization
// - tlv: field primitives inside a frame payload
// - schema: the message catalog and per-type field requirements
// - message: typed encode and decode over the layers below
//
// The packages layer strictly downward. Nothing here knows about the
// link engine, the relay, or any transport.
package protocol
