// Package mcp exposes quiz sessions to AI agents over the Model Context
// Protocol.
//
// The MCP server is a thin proxy: every tool calls the local control API
// (package api) over HTTP, so the same sessions are visible to the REST
// API, the watcher WebSocket and the agent.
//
// MCP Tools:
//   - create_session, list_sessions, leave_session: session lifecycle
//   - session_state: phase, room, players, question and scores as text
//   - set_room_code: store a room code without joining
//   - create_game, join_game, start_game, submit_answer: commands
//   - quiz_instructions: rules and phase reference
//
// Transport Modes:
//   - Stdio: `quiz mcp`, for local MCP clients
//   - HTTP: POST /mcp on the control API server
//
// Usage:
//
//	client := mcp.NewClient("http://localhost:8080")
//	if err := server.ServeStdio(client.GetMCPServer()); err != nil {
//		log.Fatal(err)
//	}
package mcp
