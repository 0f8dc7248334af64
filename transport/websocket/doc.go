// Package websocket carries quiz traffic over WebSocket connections.
//
// It has two halves:
//   - Client dials the quiz server and implements quiz.Channel
//   - Hub fans session snapshots out to local watchers
//
// Wire Protocol:
//
// The client speaks named events wrapped in a JSON envelope:
//
//	{"event": "join_game", "data": {"roomCode": "ABCD", "name": "alice"}}
//
// Outbound events without a payload omit "data". A single inbound frame may
// carry several newline-separated envelopes; they are routed in order.
// Events without a registered handler are logged and dropped.
//
// Watchers:
//
// Watchers connect with ?session=<id> and receive a state_update message
// holding the session's current state, then one message per change:
//
//	{"session_id": "...", "event": "state_update", "state": {...}}
//
// Watchers are read-only. A watcher that falls behind by more than its
// buffer is disconnected.
//
// Usage:
//
//	client, err := websocket.Dial(ctx, "http://localhost:3001")
//	if err != nil {
//		return err
//	}
//	defer client.Close()
//
//	hub := websocket.NewHub(logger)
//	go hub.Run(ctx)
//
// Concurrency:
//
// Client handlers run on the client's read goroutine, one at a time.
// Emit never blocks; it fails with ErrSendQueueFull when the writer falls
// behind. All Hub methods are safe for concurrent use.
package websocket
