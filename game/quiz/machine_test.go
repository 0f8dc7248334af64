package quiz_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ugobenoist/quiz/game/quiz"
	"github.com/ugobenoist/quiz/transport/loopback"
)

// newAttached returns a machine whose handlers run inline on Deliver
func newAttached(t *testing.T, name string) (*quiz.Machine, *loopback.Channel) {
	t.Helper()
	ch := loopback.New()
	m, err := quiz.NewMachine(ch, name, zaptest.NewLogger(t))
	require.NoError(t, err)
	m.Attach(func(fn func()) { fn() })
	return m, ch
}

func deliver(t *testing.T, ch *loopback.Channel, event string, payload any) {
	t.Helper()
	require.NoError(t, ch.Deliver(event, payload))
}

func TestNewMachine(t *testing.T) {
	t.Run("nil channel", func(t *testing.T) {
		_, err := quiz.NewMachine(nil, "alice", nil)
		assert.ErrorIs(t, err, quiz.ErrNilChannel)
	})

	t.Run("initial state", func(t *testing.T) {
		m, err := quiz.NewMachine(loopback.New(), "alice", nil)
		require.NoError(t, err)

		s := m.Snapshot()
		assert.Equal(t, quiz.PhaseAwaitingJoin, s.Phase)
		assert.False(t, s.Joined)
		assert.Empty(t, s.RoomCode)
		assert.Empty(t, s.Players)
		assert.Nil(t, s.Question)
		assert.Empty(t, s.Scores)
		assert.Nil(t, s.Error)
		assert.Equal(t, "alice", s.PlayerName)
	})
}

func TestAttachDetach(t *testing.T) {
	ch := loopback.New()
	m, err := quiz.NewMachine(ch, "alice", nil)
	require.NoError(t, err)

	m.Attach(func(fn func()) { fn() })
	assert.True(t, m.Attached())
	assert.ElementsMatch(t, quiz.InboundEvents, ch.Handlers())

	m.Detach()
	assert.False(t, m.Attached())
	assert.Empty(t, ch.Handlers())

	// Deliveries after teardown reach nothing
	err = ch.Deliver(quiz.EventGameCreated, "ABCD")
	assert.ErrorIs(t, err, loopback.ErrNoHandler)
	assert.Equal(t, quiz.PhaseAwaitingJoin, m.Phase())

	// Detach twice is harmless
	m.Detach()
}

func TestAttachUsesDispatch(t *testing.T) {
	ch := loopback.New()
	m, err := quiz.NewMachine(ch, "alice", nil)
	require.NoError(t, err)

	var queued []func()
	m.Attach(func(fn func()) { queued = append(queued, fn) })

	deliver(t, ch, quiz.EventGameCreated, "ROOM")
	assert.Equal(t, quiz.PhaseAwaitingJoin, m.Phase(), "transition must wait for the dispatcher")

	require.Len(t, queued, 1)
	queued[0]()
	assert.Equal(t, quiz.PhaseLobby, m.Phase())
}

func TestScenario(t *testing.T) {
	m, ch := newAttached(t, "alice")

	deliver(t, ch, quiz.EventGameCreated, "WXYZ")
	s := m.Snapshot()
	assert.Equal(t, quiz.PhaseLobby, s.Phase)
	assert.Equal(t, "WXYZ", s.RoomCode)
	assert.True(t, s.Host)

	deliver(t, ch, quiz.EventPlayersUpdate, []string{"Alice"})
	s = m.Snapshot()
	assert.Equal(t, []string{"Alice"}, s.Players)
	assert.Equal(t, quiz.PhaseLobby, s.Phase)

	deliver(t, ch, quiz.EventNewQuestion, quiz.Question{Index: 1, Total: 3, Text: "2+2?", Duration: 10})
	s = m.Snapshot()
	assert.Equal(t, quiz.PhaseInQuestion, s.Phase)
	assert.Empty(t, s.Scores)
	require.NotNil(t, s.Question)
	assert.Equal(t, "2+2?", s.Question.Text)

	deliver(t, ch, quiz.EventQuestionResult, quiz.QuestionResult{
		CorrectAnswer: "4",
		Scores:        []quiz.Score{{Name: "Alice", Score: 1}},
	})
	s = m.Snapshot()
	assert.Equal(t, []quiz.Score{{Name: "Alice", Score: 1}}, s.Scores)
	assert.Equal(t, quiz.PhaseShowingScores, s.Phase)
	assert.NotNil(t, s.Question, "question stays set under interim scores")
	assert.Equal(t, "4", s.CorrectAnswer)

	deliver(t, ch, quiz.EventGameOver, []quiz.Score{{Name: "Alice", Score: 1}})
	s = m.Snapshot()
	assert.Nil(t, s.Question)
	assert.Equal(t, []quiz.Score{{Name: "Alice", Score: 1}}, s.Scores)
	assert.Equal(t, quiz.PhaseShowingScores, s.Phase)
}

func TestNewQuestionResetsDraftAndScores(t *testing.T) {
	m, ch := newAttached(t, "alice")
	deliver(t, ch, quiz.EventGameCreated, "ROOM")
	deliver(t, ch, quiz.EventNewQuestion, quiz.Question{Index: 1, Total: 2, Text: "first", Duration: 5})
	m.SetAnswer("draft")
	deliver(t, ch, quiz.EventQuestionResult, quiz.QuestionResult{CorrectAnswer: "x", Scores: []quiz.Score{{Name: "alice", Score: 3}}})

	deliver(t, ch, quiz.EventNewQuestion, quiz.Question{Index: 2, Total: 2, Text: "second", Duration: 5})

	s := m.Snapshot()
	assert.Empty(t, s.Answer)
	assert.Empty(t, s.Scores)
	assert.Empty(t, s.CorrectAnswer)
	assert.Equal(t, 2, s.Question.Index)
	assert.Equal(t, quiz.PhaseInQuestion, s.Phase)
}

func TestErrorForcesRejoin(t *testing.T) {
	cases := []struct {
		name  string
		setup func(t *testing.T, ch *loopback.Channel)
	}{
		{
			name:  "from awaiting join",
			setup: func(t *testing.T, ch *loopback.Channel) {},
		},
		{
			name: "from lobby",
			setup: func(t *testing.T, ch *loopback.Channel) {
				deliver(t, ch, quiz.EventGameCreated, "ROOM")
			},
		},
		{
			name: "from question",
			setup: func(t *testing.T, ch *loopback.Channel) {
				deliver(t, ch, quiz.EventPlayersUpdate, []string{"a"})
				deliver(t, ch, quiz.EventNewQuestion, quiz.Question{Index: 1, Total: 1, Text: "q"})
			},
		},
		{
			name: "from scores",
			setup: func(t *testing.T, ch *loopback.Channel) {
				deliver(t, ch, quiz.EventPlayersUpdate, []string{"a"})
				deliver(t, ch, quiz.EventGameOver, []quiz.Score{{Name: "a", Score: 2}})
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m, ch := newAttached(t, "alice")
			tc.setup(t, ch)

			deliver(t, ch, quiz.EventError, "room not found")

			s := m.Snapshot()
			assert.False(t, s.Joined)
			assert.Equal(t, quiz.PhaseAwaitingJoin, s.Phase)
			require.NotNil(t, s.Error)
			assert.Equal(t, "room not found", *s.Error)
		})
	}
}

func TestPlayersUpdateKeepsActiveRound(t *testing.T) {
	m, ch := newAttached(t, "alice")
	deliver(t, ch, quiz.EventPlayersUpdate, []string{"alice"})
	deliver(t, ch, quiz.EventNewQuestion, quiz.Question{Index: 1, Total: 3, Text: "q"})

	deliver(t, ch, quiz.EventPlayersUpdate, []string{"alice", "bob"})

	s := m.Snapshot()
	assert.Equal(t, quiz.PhaseInQuestion, s.Phase)
	assert.Equal(t, []string{"alice", "bob"}, s.Players)
	assert.NotNil(t, s.Question)
}

func TestPlayersUpdateAfterErrorRejoins(t *testing.T) {
	m, ch := newAttached(t, "alice")
	deliver(t, ch, quiz.EventError, "boom")
	deliver(t, ch, quiz.EventPlayersUpdate, []string{"alice"})

	s := m.Snapshot()
	assert.True(t, s.Joined)
	assert.Equal(t, quiz.PhaseLobby, s.Phase)
	// the message stays until a new create/join attempt
	require.NotNil(t, s.Error)
}

func TestGameCreatedClearsError(t *testing.T) {
	m, ch := newAttached(t, "alice")
	deliver(t, ch, quiz.EventError, "boom")
	deliver(t, ch, quiz.EventGameCreated, "abcd")

	s := m.Snapshot()
	assert.Nil(t, s.Error)
	assert.Equal(t, "ABCD", s.RoomCode)
}

func TestHostClearedAfterErrorAndJoin(t *testing.T) {
	m, ch := newAttached(t, "alice")
	deliver(t, ch, quiz.EventGameCreated, "AAAA")
	require.True(t, m.Snapshot().Host)

	deliver(t, ch, quiz.EventError, "room closed")
	assert.False(t, m.Snapshot().Host)

	m.SetRoomCode("bbbb")
	sent, err := m.JoinGame()
	require.NoError(t, err)
	require.True(t, sent)
	deliver(t, ch, quiz.EventPlayersUpdate, []string{"bob", "alice"})

	s := m.Snapshot()
	assert.Equal(t, "BBBB", s.RoomCode)
	assert.Equal(t, quiz.PhaseLobby, s.Phase)
	assert.False(t, s.Host)
}

func TestJoinAfterCreateDropsHost(t *testing.T) {
	m, ch := newAttached(t, "alice")
	deliver(t, ch, quiz.EventGameCreated, "AAAA")

	m.SetRoomCode("CCCC")
	sent, err := m.JoinGame()
	require.NoError(t, err)
	require.True(t, sent)
	assert.False(t, m.Snapshot().Host)
}

func TestMalformedPayloadIsDropped(t *testing.T) {
	m, ch := newAttached(t, "alice")
	deliver(t, ch, quiz.EventGameCreated, "ROOM")
	before := m.Snapshot()

	require.NoError(t, ch.DeliverRaw(quiz.EventPlayersUpdate, json.RawMessage(`{"not":"a list"}`)))
	require.NoError(t, ch.DeliverRaw(quiz.EventNewQuestion, json.RawMessage(`[1,2]`)))
	require.NoError(t, ch.DeliverRaw(quiz.EventError, nil))

	assert.Equal(t, before, m.Snapshot())
}

func TestApplyUnknownEvent(t *testing.T) {
	m, err := quiz.NewMachine(loopback.New(), "alice", nil)
	require.NoError(t, err)

	err = m.Apply("chat", json.RawMessage(`"hi"`))
	assert.ErrorIs(t, err, quiz.ErrUnknownEvent)

	err = m.Apply(quiz.EventGameOver, json.RawMessage(`"nope"`))
	assert.ErrorIs(t, err, quiz.ErrBadPayload)
}

func TestCreateGame(t *testing.T) {
	m, ch := newAttached(t, "alice")
	deliver(t, ch, quiz.EventError, "old")

	sent, err := m.CreateGame()
	require.NoError(t, err)
	assert.True(t, sent)
	assert.Nil(t, m.Snapshot().Error)

	emitted := ch.Emitted()
	require.Len(t, emitted, 1)
	assert.Equal(t, quiz.EventCreateGame, emitted[0].Event)
	assert.Nil(t, emitted[0].Payload)
}

func TestJoinGameValidation(t *testing.T) {
	cases := []struct {
		name     string
		roomCode string
		player   string
		wantSent bool
	}{
		{name: "both empty", roomCode: "", player: "", wantSent: false},
		{name: "empty room code", roomCode: "", player: "alice", wantSent: false},
		{name: "empty name", roomCode: "ABCDE", player: "", wantSent: false},
		{name: "valid", roomCode: "ABCDE", player: "alice", wantSent: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m, ch := newAttached(t, tc.player)
			deliver(t, ch, quiz.EventError, "previous")
			m.SetRoomCode(tc.roomCode)

			sent, err := m.JoinGame()
			require.NoError(t, err)
			assert.Equal(t, tc.wantSent, sent)

			if !tc.wantSent {
				assert.Empty(t, ch.Emitted())
				assert.NotNil(t, m.Snapshot().Error, "a blocked join leaves the error alone")
				return
			}

			emitted := ch.Emitted()
			require.Len(t, emitted, 1)
			assert.Equal(t, quiz.EventJoinGame, emitted[0].Event)
			assert.JSONEq(t, `{"roomCode":"ABCDE","name":"alice"}`, string(emitted[0].Payload))
			assert.Nil(t, m.Snapshot().Error)
		})
	}
}

func TestRoomCodeIsUpperCased(t *testing.T) {
	m, ch := newAttached(t, "alice")
	m.SetRoomCode("abcde")
	assert.Equal(t, "ABCDE", m.Snapshot().RoomCode)

	_, err := m.JoinGame()
	require.NoError(t, err)
	assert.JSONEq(t, `{"roomCode":"ABCDE","name":"alice"}`, string(ch.Emitted()[0].Payload))
}

func TestStartGameIsUnconditional(t *testing.T) {
	m, ch := newAttached(t, "alice")

	sent, err := m.StartGame()
	require.NoError(t, err)
	assert.True(t, sent)

	m.SetRoomCode("wxyz")
	_, err = m.StartGame()
	require.NoError(t, err)

	emitted := ch.Emitted()
	require.Len(t, emitted, 2)
	assert.Equal(t, quiz.EventStartGame, emitted[0].Event)
	assert.JSONEq(t, `""`, string(emitted[0].Payload))
	assert.JSONEq(t, `"WXYZ"`, string(emitted[1].Payload))
}

func TestSubmitAnswer(t *testing.T) {
	cases := []struct {
		name     string
		draft    string
		wantSent bool
	}{
		{name: "empty", draft: "", wantSent: false},
		{name: "spaces", draft: "   ", wantSent: false},
		{name: "tabs and newline", draft: "\t\n", wantSent: false},
		{name: "text", draft: "4", wantSent: true},
		{name: "padded text is sent as typed", draft: " 4 ", wantSent: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m, ch := newAttached(t, "alice")
			deliver(t, ch, quiz.EventGameCreated, "ROOM")
			deliver(t, ch, quiz.EventNewQuestion, quiz.Question{Index: 1, Total: 1, Text: "2+2?"})
			m.SetAnswer(tc.draft)

			sent, err := m.SubmitAnswer()
			require.NoError(t, err)
			assert.Equal(t, tc.wantSent, sent)

			if !tc.wantSent {
				assert.Empty(t, ch.Emitted())
				return
			}
			emitted := ch.Emitted()
			require.Len(t, emitted, 1)
			assert.Equal(t, quiz.EventAnswer, emitted[0].Event)

			var req quiz.AnswerRequest
			require.NoError(t, json.Unmarshal(emitted[0].Payload, &req))
			assert.Equal(t, quiz.AnswerRequest{RoomCode: "ROOM", Answer: tc.draft}, req)

			// draft is kept until the next question
			assert.Equal(t, tc.draft, m.Snapshot().Answer)
		})
	}
}

func TestCommandTransportFailure(t *testing.T) {
	m, ch := newAttached(t, "alice")
	boom := errors.New("socket gone")
	ch.FailEmits(boom)

	sent, err := m.CreateGame()
	assert.False(t, sent)
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, err, quiz.ErrEmit)
	assert.Contains(t, err.Error(), quiz.EventCreateGame)
	// transport failures are not server errors
	assert.Nil(t, m.Snapshot().Error)
}

func TestObserversSeeEveryMutation(t *testing.T) {
	m, ch := newAttached(t, "alice")

	var phases []quiz.Phase
	m.OnChange(func(s quiz.State) { phases = append(phases, s.Phase) })

	deliver(t, ch, quiz.EventGameCreated, "ROOM")
	deliver(t, ch, quiz.EventNewQuestion, quiz.Question{Index: 1, Total: 1, Text: "q"})
	m.SetAnswer("a")
	deliver(t, ch, quiz.EventGameOver, []quiz.Score{{Name: "alice", Score: 1}})
	deliver(t, ch, quiz.EventError, "bye")

	assert.Equal(t, []quiz.Phase{
		quiz.PhaseLobby,
		quiz.PhaseInQuestion,
		quiz.PhaseInQuestion,
		quiz.PhaseShowingScores,
		quiz.PhaseAwaitingJoin,
	}, phases)
}

func TestSnapshotIsACopy(t *testing.T) {
	m, ch := newAttached(t, "alice")
	deliver(t, ch, quiz.EventPlayersUpdate, []string{"a", "b"})
	deliver(t, ch, quiz.EventNewQuestion, quiz.Question{Index: 1, Total: 1, Text: "q"})

	s := m.Snapshot()
	s.Players[0] = "mutated"
	s.Question.Text = "mutated"

	again := m.Snapshot()
	assert.Equal(t, "a", again.Players[0])
	assert.Equal(t, "q", again.Question.Text)
}
