package quiz

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"go.uber.org/zap"
)

var (
	ErrUnknownEvent = errors.New("unknown event")
	ErrBadPayload   = errors.New("malformed event payload")
	ErrNilChannel   = errors.New("channel cannot be nil")
	ErrEmit         = errors.New("emit failed")
)

// Machine holds the state of one player's session and applies transitions
type Machine struct {
	channel Channel
	logger  *zap.Logger

	roomCode      string
	playerName    string
	joined        bool
	host          bool
	players       []string
	question      *Question
	answer        string
	scores        []Score
	correctAnswer string
	lastError     *string

	observers []func(State)
	attached  bool
}

// NewMachine creates a machine in the not-joined state
func NewMachine(channel Channel, playerName string, logger *zap.Logger) (*Machine, error) {
	if channel == nil {
		return nil, ErrNilChannel
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Machine{
		channel:    channel,
		logger:     logger,
		playerName: playerName,
		players:    []string{},
		scores:     []Score{},
	}, nil
}

// OnChange registers an observer called with a snapshot after every mutation
func (m *Machine) OnChange(fn func(State)) {
	m.observers = append(m.observers, fn)
}

// Attach registers handlers for all inbound events. Each delivery is handed
// to dispatch, which must run the closure on the machine's execution context.
func (m *Machine) Attach(dispatch func(func())) {
	if m.attached {
		return
	}
	for _, event := range InboundEvents {
		m.channel.On(event, func(payload json.RawMessage) {
			dispatch(func() {
				if err := m.Apply(event, payload); err != nil {
					m.logger.Warn("dropped inbound event",
						zap.String("event", event), zap.Error(err))
				}
			})
		})
	}
	m.attached = true
}

// Detach removes every handler installed by Attach
func (m *Machine) Detach() {
	if !m.attached {
		return
	}
	for _, event := range InboundEvents {
		m.channel.Off(event)
	}
	m.attached = false
}

// Attached reports whether inbound handlers are registered
func (m *Machine) Attached() bool {
	return m.attached
}

// Apply decodes an inbound payload and runs the matching transition
func (m *Machine) Apply(event string, payload json.RawMessage) error {
	switch event {
	case EventGameCreated:
		var code string
		if err := decode(payload, &code); err != nil {
			return err
		}
		m.GameCreated(code)

	case EventPlayersUpdate:
		var players []string
		if err := decode(payload, &players); err != nil {
			return err
		}
		m.PlayersUpdated(players)

	case EventNewQuestion:
		var q Question
		if err := decode(payload, &q); err != nil {
			return err
		}
		m.NewQuestion(q)

	case EventQuestionResult:
		var r QuestionResult
		if err := decode(payload, &r); err != nil {
			return err
		}
		m.QuestionResulted(r)

	case EventGameOver:
		var scores []Score
		if err := decode(payload, &scores); err != nil {
			return err
		}
		m.GameOver(scores)

	case EventError:
		var msg string
		if err := decode(payload, &msg); err != nil {
			return err
		}
		m.ServerError(msg)

	default:
		return fmt.Errorf("%w: %s", ErrUnknownEvent, event)
	}

	return nil
}

func decode(payload json.RawMessage, v any) error {
	if len(payload) == 0 {
		return fmt.Errorf("%w: empty", ErrBadPayload)
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	return nil
}

// Transitions

// GameCreated records the room this client just created
func (m *Machine) GameCreated(code string) {
	m.roomCode = NormalizeRoomCode(code)
	m.joined = true
	m.host = true
	m.lastError = nil
	m.logger.Info("game created", zap.String("room", m.roomCode))
	m.notify()
}

// PlayersUpdated replaces the membership list. It marks the session joined
// even while a question or scoreboard is showing.
func (m *Machine) PlayersUpdated(players []string) {
	m.players = cloneStrings(players)
	m.joined = true
	m.logger.Debug("players updated", zap.Strings("players", m.players))
	m.notify()
}

// NewQuestion starts a round, clearing the draft and any scoreboard
func (m *Machine) NewQuestion(q Question) {
	m.question = &q
	m.answer = ""
	m.scores = []Score{}
	m.correctAnswer = ""
	m.logger.Debug("new question", zap.Int("index", q.Index), zap.Int("total", q.Total))
	m.notify()
}

// QuestionResulted shows interim scores; the question stays set
func (m *Machine) QuestionResulted(r QuestionResult) {
	m.scores = cloneScores(r.Scores)
	m.correctAnswer = r.CorrectAnswer
	m.notify()
}

// GameOver shows final scores and ends the round
func (m *Machine) GameOver(scores []Score) {
	m.scores = cloneScores(scores)
	m.question = nil
	m.logger.Info("game over", zap.String("room", m.roomCode), zap.Int("players", len(m.scores)))
	m.notify()
}

// ServerError stores the message and forces the session back to join.
// The room is lost, so this client is no longer its host.
func (m *Machine) ServerError(msg string) {
	m.lastError = &msg
	m.joined = false
	m.host = false
	m.logger.Info("server error", zap.String("message", msg))
	m.notify()
}

// Local edits

// SetRoomCode stores the room code typed by the user, upper-cased
func (m *Machine) SetRoomCode(code string) {
	m.roomCode = NormalizeRoomCode(code)
	m.notify()
}

// SetPlayerName changes the display name used by join_game
func (m *Machine) SetPlayerName(name string) {
	m.playerName = name
	m.notify()
}

// SetAnswer replaces the answer draft
func (m *Machine) SetAnswer(draft string) {
	m.answer = draft
	m.notify()
}

// Commands. Each returns sent=false with a nil error when local validation
// blocks the emission.

// CreateGame asks the server for a new room
func (m *Machine) CreateGame() (bool, error) {
	m.clearError()
	if err := m.emit(EventCreateGame, nil); err != nil {
		return false, err
	}
	return true, nil
}

// JoinGame joins the room in roomCode under playerName. A joining client
// is a guest, never the host.
func (m *Machine) JoinGame() (bool, error) {
	if m.roomCode == "" || m.playerName == "" {
		return false, nil
	}
	m.clearError()

	req := JoinRequest{RoomCode: m.roomCode, Name: m.playerName}
	if err := m.emit(EventJoinGame, req); err != nil {
		return false, err
	}
	if m.host {
		m.host = false
		m.notify()
	}
	return true, nil
}

// StartGame asks the server to start the room. The server decides whether
// this client is allowed to.
func (m *Machine) StartGame() (bool, error) {
	if err := m.emit(EventStartGame, m.roomCode); err != nil {
		return false, err
	}
	return true, nil
}

// SubmitAnswer sends the current draft. The draft is kept until the next
// question arrives.
func (m *Machine) SubmitAnswer() (bool, error) {
	if IsBlank(m.answer) {
		return false, nil
	}

	req := AnswerRequest{RoomCode: m.roomCode, Answer: m.answer}
	if err := m.emit(EventAnswer, req); err != nil {
		return false, err
	}
	return true, nil
}

func (m *Machine) emit(event string, payload any) error {
	if err := m.channel.Emit(event, payload); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrEmit, event, err)
	}
	m.logger.Debug("emitted", zap.String("event", event), zap.String("room", m.roomCode))
	return nil
}

func (m *Machine) clearError() {
	if m.lastError == nil {
		return
	}
	m.lastError = nil
	m.notify()
}

// Snapshot returns the current state with the derived phase
func (m *Machine) Snapshot() State {
	s := State{
		Phase:         DerivePhase(m.joined, m.question, m.scores),
		RoomCode:      m.roomCode,
		PlayerName:    m.playerName,
		Joined:        m.joined,
		Host:          m.host,
		Players:       cloneStrings(m.players),
		Answer:        m.answer,
		Scores:        cloneScores(m.scores),
		CorrectAnswer: m.correctAnswer,
	}
	if m.question != nil {
		q := *m.question
		s.Question = &q
	}
	if m.lastError != nil {
		msg := *m.lastError
		s.Error = &msg
	}
	return s
}

// Phase returns the derived active phase
func (m *Machine) Phase() Phase {
	return DerivePhase(m.joined, m.question, m.scores)
}

func (m *Machine) notify() {
	if len(m.observers) == 0 {
		return
	}
	s := m.Snapshot()
	for _, fn := range m.observers {
		fn(s)
	}
}

func cloneStrings(in []string) []string {
	if in == nil {
		return []string{}
	}
	return slices.Clone(in)
}

func cloneScores(in []Score) []Score {
	if in == nil {
		return []Score{}
	}
	return slices.Clone(in)
}
