package loopback

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/ugobenoist/quiz/game/quiz"
)

func TestEmitRecordsWireJSON(t *testing.T) {
	ch := New()

	if err := ch.Emit(quiz.EventCreateGame, nil); err != nil {
		t.Fatalf("Emit failed: %v", err)
	}
	if err := ch.Emit(quiz.EventJoinGame, quiz.JoinRequest{RoomCode: "ABCD", Name: "alice"}); err != nil {
		t.Fatalf("Emit failed: %v", err)
	}

	emitted := ch.Emitted()
	if len(emitted) != 2 {
		t.Fatalf("Expected 2 emitted events, got %d", len(emitted))
	}
	if emitted[0].Payload != nil {
		t.Errorf("Expected no payload for create_game, got %s", emitted[0].Payload)
	}

	var req map[string]string
	if err := json.Unmarshal(emitted[1].Payload, &req); err != nil {
		t.Fatalf("Bad join payload: %v", err)
	}
	if req["roomCode"] != "ABCD" || req["name"] != "alice" {
		t.Errorf("Unexpected join payload %v", req)
	}

	ch.Reset()
	if len(ch.Emitted()) != 0 {
		t.Error("Reset should forget emitted events")
	}
}

func TestDeliver(t *testing.T) {
	ch := New()

	var got []string
	ch.On(quiz.EventPlayersUpdate, func(payload json.RawMessage) {
		json.Unmarshal(payload, &got)
	})

	if err := ch.Deliver(quiz.EventPlayersUpdate, []string{"alice", "bob"}); err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}
	if len(got) != 2 || got[1] != "bob" {
		t.Errorf("Handler received %v", got)
	}

	ch.Off(quiz.EventPlayersUpdate)
	if err := ch.Deliver(quiz.EventPlayersUpdate, nil); !errors.Is(err, ErrNoHandler) {
		t.Errorf("Expected ErrNoHandler after Off, got %v", err)
	}
}

func TestHandlersSorted(t *testing.T) {
	ch := New()
	noop := func(json.RawMessage) {}
	ch.On(quiz.EventNewQuestion, noop)
	ch.On(quiz.EventError, noop)
	ch.On(quiz.EventGameOver, noop)

	names := ch.Handlers()
	want := []string{quiz.EventError, quiz.EventGameOver, quiz.EventNewQuestion}
	if len(names) != len(want) {
		t.Fatalf("Expected %v, got %v", want, names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("Expected %v, got %v", want, names)
			break
		}
	}
}

func TestFailEmitsAndClose(t *testing.T) {
	ch := New()
	boom := errors.New("boom")

	ch.FailEmits(boom)
	if err := ch.Emit(quiz.EventStartGame, "ABCD"); !errors.Is(err, boom) {
		t.Errorf("Expected injected error, got %v", err)
	}

	ch.FailEmits(nil)
	if err := ch.Emit(quiz.EventStartGame, "ABCD"); err != nil {
		t.Errorf("Expected recovery after FailEmits(nil), got %v", err)
	}

	ch.Close()
	if err := ch.Emit(quiz.EventStartGame, "ABCD"); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
	if len(ch.Emitted()) != 1 {
		t.Errorf("Failed emits must not be recorded, got %d", len(ch.Emitted()))
	}
}
