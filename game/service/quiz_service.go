package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ugobenoist/quiz/game/quiz"
	"github.com/ugobenoist/quiz/game/session"
)

// quizService implements QuizService on top of a session manager
type quizService struct {
	sessions    *session.Manager
	broadcaster Broadcaster
	logger      *zap.Logger
}

// Option configures the service
type Option func(*quizService)

// WithBroadcaster forwards every session snapshot to b
func WithBroadcaster(b Broadcaster) Option {
	return func(s *quizService) { s.broadcaster = b }
}

// WithLogger sets the service logger
func WithLogger(logger *zap.Logger) Option {
	return func(s *quizService) { s.logger = logger }
}

// NewQuizService creates a new quiz service instance
func NewQuizService(sessions *session.Manager, opts ...Option) QuizService {
	s := &quizService{
		sessions: sessions,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateSession connects a new local player
func (s *quizService) CreateSession(ctx context.Context, playerName string) (*SessionInfo, error) {
	sess, err := s.sessions.Create(ctx, playerName)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}

	if s.broadcaster != nil {
		if err := s.forward(sess); err != nil {
			s.logger.Warn("cannot forward session snapshots",
				zap.String("session", sess.ID), zap.Error(err))
		}
	}

	return s.info(ctx, sess)
}

// forward pumps the session's snapshots to the broadcaster and drops the
// session from it once it closes
func (s *quizService) forward(sess *session.Session) error {
	updates, _, err := sess.Subscribe(context.Background())
	if err != nil {
		return err
	}
	go func() {
		for state := range updates {
			s.broadcaster.BroadcastState(sess.ID, state)
		}
		// closed by Delete or expiry
		s.broadcaster.DropSession(sess.ID)
	}()
	return nil
}

// GetSession retrieves session information
func (s *quizService) GetSession(ctx context.Context, sessionID string) (*SessionInfo, error) {
	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", sessionID, err)
	}
	s.sessions.Touch(sessionID)
	return s.info(ctx, sess)
}

// ListSessions returns all active sessions, oldest first
func (s *quizService) ListSessions(ctx context.Context) ([]*SessionInfo, error) {
	sessions := s.sessions.List()
	result := make([]*SessionInfo, 0, len(sessions))

	for _, sess := range sessions {
		info, err := s.info(ctx, sess)
		if err != nil {
			// closed between List and State
			continue
		}
		result = append(result, info)
	}
	return result, nil
}

// DeleteSession disconnects and forgets a session
func (s *quizService) DeleteSession(ctx context.Context, sessionID string) error {
	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		return fmt.Errorf("session %s: %w", sessionID, err)
	}
	if err := s.sessions.Delete(sessionID); err != nil {
		return fmt.Errorf("session %s: %w", sessionID, err)
	}
	if s.broadcaster != nil {
		s.broadcaster.DropSession(sess.ID)
	}
	return nil
}

// GetState returns the session's current snapshot
func (s *quizService) GetState(ctx context.Context, sessionID string) (*quiz.State, error) {
	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", sessionID, err)
	}
	state, err := sess.State(ctx)
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", sessionID, err)
	}
	return &state, nil
}

// Subscribe streams the session's snapshots starting with the current one
func (s *quizService) Subscribe(ctx context.Context, sessionID string) (<-chan quiz.State, func(), error) {
	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		return nil, nil, fmt.Errorf("session %s: %w", sessionID, err)
	}
	return sess.Subscribe(ctx)
}

func (s *quizService) SetRoomCode(ctx context.Context, sessionID, code string) (*quiz.State, error) {
	return s.edit(ctx, sessionID, func(m *quiz.Machine) { m.SetRoomCode(code) })
}

func (s *quizService) SetPlayerName(ctx context.Context, sessionID, name string) (*quiz.State, error) {
	return s.edit(ctx, sessionID, func(m *quiz.Machine) { m.SetPlayerName(name) })
}

func (s *quizService) SetAnswer(ctx context.Context, sessionID, draft string) (*quiz.State, error) {
	return s.edit(ctx, sessionID, func(m *quiz.Machine) { m.SetAnswer(draft) })
}

func (s *quizService) CreateGame(ctx context.Context, sessionID string) (*CommandResult, error) {
	return s.command(ctx, sessionID, (*quiz.Machine).CreateGame)
}

// JoinGame joins roomCode, or the session's current room code when empty
func (s *quizService) JoinGame(ctx context.Context, sessionID, roomCode string) (*CommandResult, error) {
	return s.command(ctx, sessionID, func(m *quiz.Machine) (bool, error) {
		if roomCode != "" {
			m.SetRoomCode(roomCode)
		}
		return m.JoinGame()
	})
}

func (s *quizService) StartGame(ctx context.Context, sessionID string) (*CommandResult, error) {
	return s.command(ctx, sessionID, (*quiz.Machine).StartGame)
}

// SubmitAnswer submits answer, or the current draft when empty
func (s *quizService) SubmitAnswer(ctx context.Context, sessionID, answer string) (*CommandResult, error) {
	return s.command(ctx, sessionID, func(m *quiz.Machine) (bool, error) {
		if answer != "" {
			m.SetAnswer(answer)
		}
		return m.SubmitAnswer()
	})
}

func (s *quizService) edit(ctx context.Context, sessionID string, fn func(m *quiz.Machine)) (*quiz.State, error) {
	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", sessionID, err)
	}

	var state quiz.State
	err = sess.Do(ctx, func(m *quiz.Machine) error {
		fn(m)
		state = m.Snapshot()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", sessionID, err)
	}
	return &state, nil
}

func (s *quizService) command(ctx context.Context, sessionID string, cmd func(m *quiz.Machine) (bool, error)) (*CommandResult, error) {
	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", sessionID, err)
	}

	sent, state, err := sess.Command(ctx, cmd)
	if errors.Is(err, quiz.ErrEmit) {
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", sessionID, err)
	}
	return &CommandResult{Sent: sent, State: state}, nil
}

func (s *quizService) info(ctx context.Context, sess *session.Session) (*SessionInfo, error) {
	state, err := sess.State(ctx)
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", sess.ID, err)
	}
	return &SessionInfo{
		ID:             sess.ID,
		PlayerName:     state.PlayerName,
		CreatedAt:      sess.CreatedAt,
		LastAccessedAt: sess.LastAccessedAt(),
		State:          state,
	}, nil
}
