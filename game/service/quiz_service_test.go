package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ugobenoist/quiz/game/quiz"
	"github.com/ugobenoist/quiz/game/service"
	"github.com/ugobenoist/quiz/game/session"
	"github.com/ugobenoist/quiz/transport/loopback"
)

// recordingBroadcaster keeps the last snapshot per session
type recordingBroadcaster struct {
	mu      sync.Mutex
	last    map[string]quiz.State
	dropped []string
}

func newRecordingBroadcaster() *recordingBroadcaster {
	return &recordingBroadcaster{last: make(map[string]quiz.State)}
}

func (b *recordingBroadcaster) BroadcastState(id string, state quiz.State) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.last[id] = state
}

func (b *recordingBroadcaster) DropSession(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dropped = append(b.dropped, id)
}

func (b *recordingBroadcaster) droppedIDs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.dropped))
	copy(out, b.dropped)
	return out
}

func (b *recordingBroadcaster) lastState(id string) (quiz.State, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.last[id]
	return s, ok
}

type fixture struct {
	svc     service.QuizService
	manager *session.Manager
	conns   []*loopback.Channel
	mu    sync.Mutex
	hub   *recordingBroadcaster
}

func (f *fixture) conn(i int) *loopback.Channel {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conns[i]
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{hub: newRecordingBroadcaster()}
	manager, err := session.NewManager(func(ctx context.Context) (session.Conn, error) {
		ch := loopback.New()
		f.mu.Lock()
		f.conns = append(f.conns, ch)
		f.mu.Unlock()
		return ch, nil
	}, nil)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	t.Cleanup(manager.CloseAll)
	f.manager = manager
	f.svc = service.NewQuizService(manager, service.WithBroadcaster(f.hub))
	return f
}

func TestCreateSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	info, err := f.svc.CreateSession(ctx, "  alice ")
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if info.ID == "" {
		t.Error("Expected a session ID")
	}
	if info.PlayerName != "alice" {
		t.Errorf("Expected player alice, got %q", info.PlayerName)
	}
	if info.State.Phase != quiz.PhaseAwaitingJoin {
		t.Errorf("Expected awaiting_join, got %s", info.State.Phase)
	}

	list, err := f.svc.ListSessions(ctx)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(list) != 1 || list[0].ID != info.ID {
		t.Errorf("Expected the new session in the list, got %v", list)
	}
}

func TestUnknownSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.GetSession(ctx, "nope"); !errors.Is(err, session.ErrSessionNotFound) {
		t.Errorf("GetSession: expected ErrSessionNotFound, got %v", err)
	}
	if _, err := f.svc.GetState(ctx, "nope"); !errors.Is(err, session.ErrSessionNotFound) {
		t.Errorf("GetState: expected ErrSessionNotFound, got %v", err)
	}
	if _, err := f.svc.CreateGame(ctx, "nope"); !errors.Is(err, session.ErrSessionNotFound) {
		t.Errorf("CreateGame: expected ErrSessionNotFound, got %v", err)
	}
	if err := f.svc.DeleteSession(ctx, "nope"); !errors.Is(err, session.ErrSessionNotFound) {
		t.Errorf("DeleteSession: expected ErrSessionNotFound, got %v", err)
	}
}

func TestJoinGame(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	info, _ := f.svc.CreateSession(ctx, "alice")

	t.Run("missing room code is a no-op", func(t *testing.T) {
		result, err := f.svc.JoinGame(ctx, info.ID, "")
		if err != nil {
			t.Fatalf("JoinGame failed: %v", err)
		}
		if result.Sent {
			t.Error("Join without a room code must not be sent")
		}
		if len(f.conn(0).Emitted()) != 0 {
			t.Error("Nothing should have been emitted")
		}
	})

	t.Run("room code argument is applied first", func(t *testing.T) {
		result, err := f.svc.JoinGame(ctx, info.ID, " abcd ")
		if err != nil {
			t.Fatalf("JoinGame failed: %v", err)
		}
		if !result.Sent {
			t.Error("Expected join to be sent")
		}
		if result.State.RoomCode != "ABCD" {
			t.Errorf("Expected room ABCD, got %q", result.State.RoomCode)
		}
		emitted := f.conn(0).Emitted()
		if len(emitted) != 1 || emitted[0].Event != quiz.EventJoinGame {
			t.Errorf("Expected one join_game, got %v", emitted)
		}
	})
}

func TestSubmitAnswer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	info, _ := f.svc.CreateSession(ctx, "alice")
	ch := f.conn(0)

	ch.Deliver(quiz.EventGameCreated, "ROOM")
	ch.Deliver(quiz.EventNewQuestion, quiz.Question{Index: 1, Total: 3, Text: "2+2?", Duration: 10})

	if _, err := f.svc.SetAnswer(ctx, info.ID, "   "); err != nil {
		t.Fatalf("SetAnswer failed: %v", err)
	}
	result, err := f.svc.SubmitAnswer(ctx, info.ID, "")
	if err != nil {
		t.Fatalf("SubmitAnswer failed: %v", err)
	}
	if result.Sent {
		t.Error("Blank draft must not be sent")
	}

	result, err = f.svc.SubmitAnswer(ctx, info.ID, "4")
	if err != nil {
		t.Fatalf("SubmitAnswer failed: %v", err)
	}
	if !result.Sent {
		t.Error("Expected answer to be sent")
	}
	if result.State.Phase != quiz.PhaseInQuestion {
		t.Errorf("Expected in_question, got %s", result.State.Phase)
	}
	if result.State.Answer != "4" {
		t.Errorf("Draft should be kept after submit, got %q", result.State.Answer)
	}
}

func TestLocalEdits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	info, _ := f.svc.CreateSession(ctx, "")

	state, err := f.svc.SetPlayerName(ctx, info.ID, "bob")
	if err != nil {
		t.Fatalf("SetPlayerName failed: %v", err)
	}
	if state.PlayerName != "bob" {
		t.Errorf("Expected bob, got %q", state.PlayerName)
	}

	state, err = f.svc.SetRoomCode(ctx, info.ID, "wxyz")
	if err != nil {
		t.Fatalf("SetRoomCode failed: %v", err)
	}
	if state.RoomCode != "WXYZ" {
		t.Errorf("Expected WXYZ, got %q", state.RoomCode)
	}
}

func TestCommandTransportError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	info, _ := f.svc.CreateSession(ctx, "alice")
	f.conn(0).FailEmits(errors.New("broken pipe"))

	_, err := f.svc.StartGame(ctx, info.ID)
	if !errors.Is(err, service.ErrTransport) {
		t.Errorf("Expected ErrTransport, got %v", err)
	}
}

func TestBroadcasterReceivesSnapshots(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	info, _ := f.svc.CreateSession(ctx, "alice")

	f.conn(0).Deliver(quiz.EventGameCreated, "ROOM")

	deadline := time.Now().Add(2 * time.Second)
	for {
		state, ok := f.hub.lastState(info.ID)
		if ok && state.Phase == quiz.PhaseLobby {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("Broadcaster never saw the lobby, last %+v", state)
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := f.svc.DeleteSession(ctx, info.ID); err != nil {
		t.Fatalf("DeleteSession failed: %v", err)
	}
	dropped := f.hub.droppedIDs()
	if len(dropped) == 0 {
		t.Fatal("Expected session to be dropped from the broadcaster")
	}
	for _, id := range dropped {
		if id != info.ID {
			t.Errorf("Unexpected session dropped: %s", id)
		}
	}
}

func TestExpiredSessionDroppedFromBroadcaster(t *testing.T) {
	f := newFixture(t)
	info, err := f.svc.CreateSession(context.Background(), "alice")
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	time.Sleep(5 * time.Millisecond)
	if removed := f.manager.CleanupExpiredSessions(time.Millisecond); removed != 1 {
		t.Fatalf("Expected 1 expired session, got %d", removed)
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(f.hub.droppedIDs()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("Expired session was never dropped from the broadcaster")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := f.hub.droppedIDs()[0]; got != info.ID {
		t.Errorf("Expected %s to be dropped, got %s", info.ID, got)
	}
}

func TestSubscribe(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	info, _ := f.svc.CreateSession(ctx, "alice")

	updates, cancel, err := f.svc.Subscribe(ctx, info.ID)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer cancel()

	first := <-updates
	if first.Phase != quiz.PhaseAwaitingJoin {
		t.Errorf("Expected awaiting_join first, got %s", first.Phase)
	}

	f.conn(0).Deliver(quiz.EventError, "Room not found")
	select {
	case s := <-updates:
		if s.Error == nil || *s.Error != "Room not found" {
			t.Errorf("Expected error banner, got %+v", s.Error)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("No snapshot after error event")
	}
}
