// Package stream provides the line streaming protocol engine.
package stream

// The firmware acknowledges every block it parses with a single line,
// "ok" or an error. While its motion planner buffer is full it holds the
// acknowledgment back, so a client that never writes the next Ordinary
// command before reading the previous acknowledgment is paced by the
// firmware itself. No buffer occupancy is tracked on this side.
//
// Arc commands (G2/G3) are the exception: the firmware injects the arc as
// short segments directly into the planner and there may be no response
// for the duration of the arc. The engine doesn't wait after an arc and
// attributes any acknowledgment it reads to the oldest outstanding
// Ordinary command.
//
// Producer: firmware
// Consumer: Session
