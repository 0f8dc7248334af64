// Package service provides the operations layer for local quiz sessions.
//
// QuizService is what the control API, the MCP tools and the terminal talk
// to. It looks sessions up in a session.Manager, runs edits and commands on
// the session loop, and reports each command as a CommandResult:
//
//	result, err := svc.JoinGame(ctx, id, "ABCD")
//	if err != nil {
//		// errors.Is(err, ErrTransport) when the server link failed
//	}
//	if !result.Sent {
//		// room code or player name missing; nothing was sent
//	}
//
// A Broadcaster, when configured, receives every snapshot of every session
// and is told when a session is deleted. The watcher hub fills that role.
package service
