// Package quiz provides the client-side session state machine for the
// multiplayer quiz game.
//
// The quiz package implements:
//   - Session state (room code, membership, current question, answer draft,
//     scoreboard and last server error)
//   - Transitions driven by the six inbound server events
//   - The four outbound commands with their local validation
//   - Phase derivation for the lobby, question and scores views
//   - Handler registration and teardown on an injected event Channel
//
// Core Types:
//
// Machine owns the session state and applies transitions. State is an
// immutable snapshot handed to observers and transports. Channel is the
// transport contract the Machine registers handlers on and emits commands to.
//
// Usage:
//
//	m, err := quiz.NewMachine(channel, "alice", logger)
//	if err != nil {
//		log.Fatal(err)
//	}
//	m.OnChange(func(s quiz.State) { render(s) })
//	m.Attach(func(fn func()) { inbox <- fn })
//	defer m.Detach()
//
//	m.SetRoomCode("abcde")
//	if sent, err := m.JoinGame(); err != nil {
//		log.Fatal(err)
//	} else if !sent {
//		// room code or name missing; nothing was emitted
//	}
//
// Phases:
//
// The active phase is never stored. It is derived from the joined flag, the
// presence of a question and the scoreboard, in that order of precedence:
// not joined shows the entry screen, a non-empty scoreboard shows scores, a
// present question shows the question, anything else is the lobby.
//
// Concurrency:
//
// Machine is not safe for concurrent use. Every transition and command must
// run on one execution context; the Attach dispatch function is how inbound
// events get there.
package quiz
