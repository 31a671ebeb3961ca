// Package link owns the serial link engine.
//
// Ownership boundary:
// - session read pump and in-order frame decode
// - write serialization on the physical channel
// - connection lifecycle state and its observers
//
// Lifecycle order: idle -> awaiting_permission -> opening -> connected.
// The awaiting_permission state is skipped when no gate is configured.
// A lost link always lands in idle; reconnect is an explicit call.
//
// The link does not own payload meaning.
package link
