// Package radio defines the contract of a best-effort datagram radio used by
// groupnet, and the pieces shared by its adapters.
package radio

// An adapter behaves like a connectionless single-channel radio (e.g. ESP-NOW):
//
//   - Frames are addressed with 6-byte addresses. Sending to Broadcast reaches
//     every radio on the channel; sending to Group reaches every peer in the
//     adapter's peer table except Broadcast.
//   - Unicast requires the destination to be in the peer table.
//   - Send returns once the frame is queued for transmission. The outcome is
//     reported later through Handler.SendDone, exactly once per accepted Send.
//   - Arrivals are reported through Handler.Received.
//   - Both notifications are delivered serially from a single goroutine (the
//     notification context) and handlers must not block.
