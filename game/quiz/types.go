package quiz

import (
	"encoding/json"
	"time"
)

// Phase identifies which view is active
type Phase string

const (
	PhaseAwaitingJoin  Phase = "awaiting_join"
	PhaseLobby         Phase = "lobby"
	PhaseInQuestion    Phase = "in_question"
	PhaseShowingScores Phase = "showing_scores"
)

// Outbound (client to server) event names
const (
	EventCreateGame = "create_game"
	EventJoinGame   = "join_game"
	EventStartGame  = "start_game"
	EventAnswer     = "answer"
)

// Inbound (server to client) event names
const (
	EventGameCreated    = "game_created"
	EventPlayersUpdate  = "players_update"
	EventNewQuestion    = "new_question"
	EventQuestionResult = "question_result"
	EventGameOver       = "game_over"
	EventError          = "error"
)

// InboundEvents lists every server event the Machine handles, in
// registration order.
var InboundEvents = []string{
	EventGameCreated,
	EventPlayersUpdate,
	EventNewQuestion,
	EventQuestionResult,
	EventGameOver,
	EventError,
}

// Question is one round as announced by the server
type Question struct {
	Index    int    `json:"index"`
	Total    int    `json:"total"`
	Text     string `json:"question"`
	Duration int    `json:"duration"` // seconds
}

// TimeLimit returns the round duration announced by the server
func (q Question) TimeLimit() time.Duration {
	return time.Duration(q.Duration) * time.Second
}

// Score is one scoreboard row
type Score struct {
	Name  string `json:"name"`
	Score int    `json:"score"`
}

// QuestionResult is the payload of question_result
type QuestionResult struct {
	CorrectAnswer string  `json:"correctAnswer"`
	Scores        []Score `json:"scores"`
}

// JoinRequest is the payload of join_game
type JoinRequest struct {
	RoomCode string `json:"roomCode"`
	Name     string `json:"name"`
}

// AnswerRequest is the payload of answer
type AnswerRequest struct {
	RoomCode string `json:"roomCode"`
	Answer   string `json:"answer"`
}

// State is a point-in-time snapshot of a session
type State struct {
	Phase         Phase     `json:"phase"`
	RoomCode      string    `json:"room_code"`
	PlayerName    string    `json:"player_name"`
	Joined        bool      `json:"joined"`
	Host          bool      `json:"host"`
	Players       []string  `json:"players"`
	Question      *Question `json:"question,omitempty"`
	Answer        string    `json:"answer"`
	Scores        []Score   `json:"scores"`
	CorrectAnswer string    `json:"correct_answer,omitempty"`
	Error         *string   `json:"error,omitempty"`
}

// Handler receives the raw payload of one inbound event
type Handler func(payload json.RawMessage)

// Channel is the bidirectional event channel to the quiz server.
// Handlers may be invoked from any goroutine.
type Channel interface {
	On(event string, h Handler)
	Off(event string)
	Emit(event string, payload any) error
}
