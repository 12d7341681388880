// Package groupnet is the messaging layer of a node: a send pipeline, a
// receive pipeline and a small group discovery protocol on top of a
// best-effort radio (see package radio).
package groupnet

// Sending is fire-and-forget. Send only guarantees the packet is accepted
// into the bounded send ring; a single worker drains the ring in order and
// keeps at most one transmission in flight, waiting for the radio's
// completion before starting the next one.
//
// Arrivals are classified in the radio's notification context. DATA packets
// are put into the bounded receive ring without waiting (the newest packet
// is dropped when the ring is full). BEACON packets are matched inline: while
// a group is open, a beacon carrying the same group id registers its sender
// as a peer, which afterwards receives packets sent to the group.
//
// While a group is open, a timer broadcasts a beacon every period.
//
// Known race: GroupClear running concurrently with a beacon registration may
// leave the newly registered peer in place. Callers close the group before
// clearing when they need an empty directory.
