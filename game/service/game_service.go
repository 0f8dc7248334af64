package service

import (
	"context"
	"errors"
	"time"

	"github.com/ugobenoist/quiz/game/quiz"
)

var (
	// ErrTransport marks command failures caused by the server connection
	ErrTransport = errors.New("quiz server unreachable")
)

// QuizService defines all operations on local quiz sessions
type QuizService interface {
	// Session Management
	CreateSession(ctx context.Context, playerName string) (*SessionInfo, error)
	GetSession(ctx context.Context, sessionID string) (*SessionInfo, error)
	ListSessions(ctx context.Context) ([]*SessionInfo, error)
	DeleteSession(ctx context.Context, sessionID string) error

	// Session State
	GetState(ctx context.Context, sessionID string) (*quiz.State, error)
	Subscribe(ctx context.Context, sessionID string) (<-chan quiz.State, func(), error)

	// Local Edits
	SetRoomCode(ctx context.Context, sessionID, code string) (*quiz.State, error)
	SetPlayerName(ctx context.Context, sessionID, name string) (*quiz.State, error)
	SetAnswer(ctx context.Context, sessionID, draft string) (*quiz.State, error)

	// Commands
	CreateGame(ctx context.Context, sessionID string) (*CommandResult, error)
	JoinGame(ctx context.Context, sessionID, roomCode string) (*CommandResult, error)
	StartGame(ctx context.Context, sessionID string) (*CommandResult, error)
	SubmitAnswer(ctx context.Context, sessionID, answer string) (*CommandResult, error)
}

// Broadcaster receives every snapshot of every session
type Broadcaster interface {
	BroadcastState(sessionID string, state quiz.State)
	DropSession(sessionID string)
}

// SessionInfo provides information about a local session
type SessionInfo struct {
	ID             string     `json:"id"`
	PlayerName     string     `json:"player_name"`
	CreatedAt      time.Time  `json:"created_at"`
	LastAccessedAt time.Time  `json:"last_accessed_at"`
	State          quiz.State `json:"state"`
}

// CommandResult reports whether a command reached the wire and the state
// right after it ran. Sent is false when local validation skipped it.
type CommandResult struct {
	Sent  bool       `json:"sent"`
	State quiz.State `json:"state"`
}
