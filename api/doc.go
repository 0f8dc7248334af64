// Package api provides the local control REST API for quiz sessions.
//
// Each session is one player connected to the quiz server. The API lets
// scripts, tools and the MCP bridge drive those players.
//
// Endpoints:
//
// Session Management:
//   - POST /api/sessions - Create a session {"player_name": "alice"}
//   - GET /api/sessions - List sessions (?sort=created|accessed&order=asc|desc&limit=N)
//   - GET /api/sessions/{id} - Get a session
//   - DELETE /api/sessions/{id} - Disconnect and forget a session
//   - GET /api/sessions/{id}/state - Current snapshot
//
// Local Edits (never sent to the server):
//   - PUT /api/sessions/{id}/room {"room_code": "ABCD"}
//   - PUT /api/sessions/{id}/name {"player_name": "alice"}
//   - PUT /api/sessions/{id}/answer {"answer": "42"}
//
// Commands:
//   - POST /api/sessions/{id}/create
//   - POST /api/sessions/{id}/join, optional {"room_code": "ABCD"}
//   - POST /api/sessions/{id}/start
//   - POST /api/sessions/{id}/submit, optional {"answer": "42"}
//
// Commands answer with {"sent": bool, "state": {...}}. sent is false when
// the command was skipped locally, for example a join without a room code.
//
// Watching:
//   - GET /ws?session={id} - WebSocket stream of snapshots
//   - GET /healthz - Liveness probe
//
// Error Handling:
//
// Errors are returned as JSON:
//
//	{"error": "session 1234: session not found"}
//
// Unknown sessions answer 404, malformed bodies 400, and a failed link to
// the quiz server 502.
package api
