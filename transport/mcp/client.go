package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ugobenoist/quiz/game/quiz"
	"github.com/ugobenoist/quiz/game/service"
)

// Client is a thin MCP client that proxies to the control API
type Client struct {
	baseURL    string
	httpClient *http.Client
	mcpServer  *server.MCPServer
}

// NewClient creates a new MCP client that calls the control API at baseURL
func NewClient(baseURL string) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}

	c.initMCPServer()
	return c
}

// initMCPServer initializes the MCP server with all tools
func (c *Client) initMCPServer() {
	c.mcpServer = server.NewMCPServer(
		"Quiz Client",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions(`Quiz Client - MCP Interface

Each session is one player connected to a multiplayer quiz server.
This is a thin client that proxies all requests to the local control API.

TYPICAL FLOW:
1. create_session with a player name
2. create_game to host a new room, or join_game with a room code
3. start_game (host only; the server decides)
4. session_state to read the current question, then submit_answer
5. session_state again to see the scores

AVAILABLE TOOLS:
- create_session: Connect a new player
- list_sessions: List connected players
- session_state: Current phase, room, players, question and scores
- set_room_code: Store a room code without joining
- create_game: Ask the server for a new room
- join_game: Join a room
- start_game: Start the room's game
- submit_answer: Answer the active question
- leave_session: Disconnect a player
- quiz_instructions: Rules and phase reference

Commands report "not sent" when local checks skip them, for example joining
without a room code. That is not an error.`),
	)

	c.registerTools()
}

func sessionIDProperty() map[string]interface{} {
	return map[string]interface{}{
		"type":        "string",
		"description": "Session ID",
	}
}

// registerTools registers all MCP tools
func (c *Client) registerTools() {
	// Session management
	c.mcpServer.AddTool(mcp.Tool{
		Name:        "create_session",
		Description: "Connect a new player to the quiz server",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"player_name": map[string]interface{}{
					"type":        "string",
					"description": "Name shown to other players (optional, can be set later)",
				},
			},
		},
	}, c.handleCreateSession)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "list_sessions",
		Description: "List all connected players",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, c.handleListSessions)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "session_state",
		Description: "Get the current quiz state of a session",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"session_id": sessionIDProperty(),
			},
			Required: []string{"session_id"},
		},
	}, c.handleSessionState)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "leave_session",
		Description: "Disconnect a player and forget the session",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"session_id": sessionIDProperty(),
			},
			Required: []string{"session_id"},
		},
	}, c.handleLeaveSession)

	// Local edits
	c.mcpServer.AddTool(mcp.Tool{
		Name:        "set_room_code",
		Description: "Store a room code for a later join_game. Codes are upper-cased.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"session_id": sessionIDProperty(),
				"room_code": map[string]interface{}{
					"type":        "string",
					"description": "Room code",
				},
			},
			Required: []string{"session_id", "room_code"},
		},
	}, c.handleSetRoomCode)

	// Commands
	c.mcpServer.AddTool(mcp.Tool{
		Name:        "create_game",
		Description: "Ask the server to create a new room with this player as host",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"session_id": sessionIDProperty(),
			},
			Required: []string{"session_id"},
		},
	}, c.handleCreateGame)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "join_game",
		Description: "Join a room. Uses the stored room code when room_code is omitted.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"session_id": sessionIDProperty(),
				"room_code": map[string]interface{}{
					"type":        "string",
					"description": "Room code to join (optional)",
				},
			},
			Required: []string{"session_id"},
		},
	}, c.handleJoinGame)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "start_game",
		Description: "Ask the server to start the room's game",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"session_id": sessionIDProperty(),
			},
			Required: []string{"session_id"},
		},
	}, c.handleStartGame)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "submit_answer",
		Description: "Answer the active question. Uses the stored draft when answer is omitted.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"session_id": sessionIDProperty(),
				"answer": map[string]interface{}{
					"type":        "string",
					"description": "Answer text",
				},
			},
			Required: []string{"session_id"},
		},
	}, c.handleSubmitAnswer)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "quiz_instructions",
		Description: "Get the rules and a reference of the session phases",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, c.handleQuizInstructions)
}

// GetMCPServer returns the underlying MCP server for serving
func (c *Client) GetMCPServer() *server.MCPServer {
	return c.mcpServer
}

// Helper methods for API calls

func (c *Client) apiCall(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	url := c.baseURL + path

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewBuffer(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return err
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp map[string]string
		json.NewDecoder(resp.Body).Decode(&errResp)
		if msg, ok := errResp["error"]; ok {
			return fmt.Errorf("%s", msg)
		}
		return fmt.Errorf("API error: %d", resp.StatusCode)
	}

	if result != nil {
		return json.NewDecoder(resp.Body).Decode(result)
	}

	return nil
}

func arguments(request mcp.CallToolRequest) map[string]interface{} {
	args, _ := request.Params.Arguments.(map[string]interface{})
	if args == nil {
		return map[string]interface{}{}
	}
	return args
}

func sessionPath(sessionID, suffix string) string {
	return fmt.Sprintf("/api/sessions/%s%s", sessionID, suffix)
}

// Tool handlers

func (c *Client) handleCreateSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	playerName, _ := args["player_name"].(string)

	var session service.SessionInfo
	err := c.apiCall(ctx, "POST", "/api/sessions", map[string]string{"player_name": playerName}, &session)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result := fmt.Sprintf("Created session: %s\nPlayer: %s\n", session.ID, displayName(session.PlayerName))
	return mcp.NewToolResultText(result), nil
}

func (c *Client) handleListSessions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var response struct {
		Count    int                   `json:"count"`
		Sessions []service.SessionInfo `json:"sessions"`
	}

	err := c.apiCall(ctx, "GET", "/api/sessions", nil, &response)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result := fmt.Sprintf("Active Sessions (%d):\n\n", response.Count)
	for _, s := range response.Sessions {
		room := s.State.RoomCode
		if room == "" {
			room = "-"
		}
		result += fmt.Sprintf("- %s (Player: %s, Phase: %s, Room: %s, Created: %s)\n",
			s.ID, displayName(s.PlayerName), s.State.Phase, room, s.CreatedAt.Format("15:04:05"))
	}

	return mcp.NewToolResultText(result), nil
}

func (c *Client) handleSessionState(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, _ := arguments(request)["session_id"].(string)

	var state quiz.State
	if err := c.apiCall(ctx, "GET", sessionPath(sessionID, "/state"), nil, &state); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(formatState(&state)), nil
}

func (c *Client) handleLeaveSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, _ := arguments(request)["session_id"].(string)

	if err := c.apiCall(ctx, "DELETE", sessionPath(sessionID, ""), nil, nil); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf("Session %s closed", sessionID)), nil
}

func (c *Client) handleSetRoomCode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	sessionID, _ := args["session_id"].(string)
	roomCode, _ := args["room_code"].(string)

	var state quiz.State
	err := c.apiCall(ctx, "PUT", sessionPath(sessionID, "/room"), map[string]string{"room_code": roomCode}, &state)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf("Room code set to %s", state.RoomCode)), nil
}

func (c *Client) handleCreateGame(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, _ := arguments(request)["session_id"].(string)
	return c.command(ctx, sessionID, "create", nil)
}

func (c *Client) handleJoinGame(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	sessionID, _ := args["session_id"].(string)
	roomCode, _ := args["room_code"].(string)

	var body interface{}
	if roomCode != "" {
		body = map[string]string{"room_code": roomCode}
	}
	return c.command(ctx, sessionID, "join", body)
}

func (c *Client) handleStartGame(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, _ := arguments(request)["session_id"].(string)
	return c.command(ctx, sessionID, "start", nil)
}

func (c *Client) handleSubmitAnswer(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	sessionID, _ := args["session_id"].(string)
	answer, _ := args["answer"].(string)

	var body interface{}
	if answer != "" {
		body = map[string]string{"answer": answer}
	}
	return c.command(ctx, sessionID, "submit", body)
}

func (c *Client) command(ctx context.Context, sessionID, name string, body interface{}) (*mcp.CallToolResult, error) {
	var result service.CommandResult
	if err := c.apiCall(ctx, "POST", sessionPath(sessionID, "/"+name), body, &result); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(formatCommandResult(name, &result)), nil
}

func (c *Client) handleQuizInstructions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	instructions := `# Quiz Client Instructions

## Phases
A session is always in exactly one phase:
- awaiting_join: not in a room yet. Use create_game, or join_game with a room code.
- lobby: in a room, waiting for the game to start. The host can start_game.
- in_question: a question is active. submit_answer before the time limit.
- showing_scores: scores are on screen, after a round or at game end.

## Rules
- Room codes are case-insensitive; they are stored upper-cased.
- join_game needs both a room code and a player name. Without them nothing is sent.
- submit_answer needs a non-blank answer. Without one nothing is sent.
- Each new question clears the previous answer and scores.
- A server error (for example an unknown room) returns the session to
  awaiting_join and shows the error until the next create or join.

## Typical Round
1. session_state shows "Question 1/5" with the question text and time limit
2. submit_answer with your answer
3. session_state shows the scores and the correct answer once the round ends
`
	return mcp.NewToolResultText(instructions), nil
}

// Formatting helpers

func displayName(name string) string {
	if name == "" {
		return "(unset)"
	}
	return name
}

func formatCommandResult(name string, result *service.CommandResult) string {
	var b strings.Builder
	if result.Sent {
		fmt.Fprintf(&b, "%s: sent\n\n", name)
	} else {
		fmt.Fprintf(&b, "%s: not sent (local checks failed)\n\n", name)
	}
	b.WriteString(formatState(&result.State))
	return b.String()
}

func formatState(state *quiz.State) string {
	if state == nil {
		return "No state available"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Phase: %s\n", state.Phase)
	fmt.Fprintf(&b, "Player: %s\n", displayName(state.PlayerName))
	if state.RoomCode != "" {
		role := ""
		if state.Host {
			role = " (host)"
		}
		fmt.Fprintf(&b, "Room: %s%s\n", state.RoomCode, role)
	}

	if state.Error != nil {
		fmt.Fprintf(&b, "Error: %s\n", *state.Error)
	}

	switch state.Phase {
	case quiz.PhaseLobby:
		fmt.Fprintf(&b, "Players (%d): %s\n", len(state.Players), strings.Join(state.Players, ", "))

	case quiz.PhaseInQuestion:
		if q := state.Question; q != nil {
			fmt.Fprintf(&b, "\nQuestion %d/%d (%ds): %s\n", q.Index, q.Total, q.Duration, q.Text)
		}
		if state.Answer != "" {
			fmt.Fprintf(&b, "Your answer: %s\n", state.Answer)
		}

	case quiz.PhaseShowingScores:
		if state.CorrectAnswer != "" {
			fmt.Fprintf(&b, "\nCorrect answer: %s\n", state.CorrectAnswer)
		}
		b.WriteString("\nScores:\n")
		for i, s := range state.Scores {
			fmt.Fprintf(&b, "%d. %s - %d\n", i+1, s.Name, s.Score)
		}
	}

	return b.String()
}
