// Package channel implements the resilient update channel between the
// vehicle client and the guidance server.
//
// A Manager owns one persistent WebSocket connection end to end: it dials,
// reads text frames, decodes them into typed envelopes, and dispatches each
// envelope to registered handlers. When the connection drops without Close
// having been called, the manager reconnects on its own with exponential
// backoff (500ms doubling to a 30s cap, jittered) and keeps going until
// Close.
//
// Delivery guarantees:
//   - Every successfully decoded frame is dispatched exactly once, in the
//     order it was received from the transport.
//   - All handlers run on the manager's single run goroutine; no handler
//     runs concurrently with another.
//   - A malformed frame produces exactly one decode error through OnError
//     and no dispatch; the stream continues.
//   - After Close returns, no further handler fires, including when Close
//     is called from inside a handler.
//
// Error reporting is split from message delivery: transport errors (dial
// failures, dropped connections, timeouts) and decode errors both arrive as
// *ChannelError values through OnError. Transport errors are recovered
// internally by the reconnect loop; they are reported for visibility, never
// returned to callers.
//
// The outbound side is deliberately thin: Send writes one frame and fails
// with ErrNotConnected when the channel is not open. Nothing is queued.
//
// Usage:
//
//	m := channel.NewManager("ws://localhost:8765/ws")
//	m.OnKind(channel.KindVoiceGuidance, func(env channel.Envelope) {
//		var p channel.MessagePayload
//		if err := env.DecodePayload(&p); err == nil {
//			log.Println(p.Message)
//		}
//	})
//	m.OnError(func(cerr *channel.ChannelError) {
//		log.Printf("channel error: %v", cerr)
//	})
//	m.Connect()
//	defer m.Close()
package channel
