// Package session runs quiz sessions for local players.
//
// The session package implements:
//   - One event loop goroutine per session that serializes inbound server
//     events and user commands
//   - Handler registration on connect and full teardown on Close
//   - Snapshot streams for views and watchers
//   - A thread-safe Manager for several local sessions
//   - Expiry of idle sessions
//
// Core Types:
//
// Session wraps a quiz.Machine and the connection it was attached to.
// Nothing outside the loop touches the machine; Do and Command hand work to
// the loop and wait for the result. Manager dials a new connection for each
// session it creates.
//
// Usage:
//
//	manager, err := session.NewManager(dialer, logger)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	sess, err := manager.Create(ctx, "alice")
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	updates, cancel, err := sess.Subscribe(ctx)
//	defer cancel()
//
//	sent, state, err := sess.Command(ctx, (*quiz.Machine).CreateGame)
//
// Session Identifiers:
//
// Sessions are identified by random UUIDs. Lookups are case-insensitive.
//
// Cleanup:
//
// Deleting a session closes its connection. Sessions are never persisted;
// they live as long as the process or until they expire.
package session
