package terminal

import (
	"fmt"
	"io"
	"strings"

	"github.com/ugobenoist/quiz/game/quiz"
)

// Render draws the view of the state's phase, preceded by the error banner
// when the server reported one.
func Render(w io.Writer, s quiz.State) error {
	var b strings.Builder

	b.WriteString("=== Quiz ===\n")
	if s.Error != nil {
		fmt.Fprintf(&b, "! %s\n", *s.Error)
	}

	switch s.Phase {
	case quiz.PhaseAwaitingJoin:
		renderEntry(&b, s)
	case quiz.PhaseLobby:
		renderLobby(&b, s)
	case quiz.PhaseInQuestion:
		renderQuestion(&b, s)
	case quiz.PhaseShowingScores:
		renderScores(&b, s)
	default:
		fmt.Fprintf(&b, "unknown phase %q\n", s.Phase)
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func renderEntry(b *strings.Builder, s quiz.State) {
	room := s.RoomCode
	if room == "" {
		room = "-"
	}
	name := s.PlayerName
	if name == "" {
		name = "-"
	}
	fmt.Fprintf(b, "Room code: %s\n", room)
	fmt.Fprintf(b, "Name: %s\n", name)
	b.WriteString("\n  join [code]   join a room\n")
	b.WriteString("  create        create a new room\n")
}

func renderLobby(b *strings.Builder, s quiz.State) {
	fmt.Fprintf(b, "Room: %s\n", s.RoomCode)
	b.WriteString("Players:\n")
	if len(s.Players) == 0 {
		b.WriteString("  (waiting for players)\n")
	}
	for _, p := range s.Players {
		fmt.Fprintf(b, "  • %s\n", p)
	}
	if s.Host {
		b.WriteString("\n  start         start the game\n")
	} else {
		b.WriteString("\nWaiting for the host to start...\n")
	}
}

func renderQuestion(b *strings.Builder, s quiz.State) {
	q := s.Question
	if q == nil {
		return
	}
	fmt.Fprintf(b, "Question %d/%d", q.Index, q.Total)
	if q.Duration > 0 {
		fmt.Fprintf(b, " (%s)", q.TimeLimit())
	}
	b.WriteString("\n")
	fmt.Fprintf(b, "%s\n", q.Text)
	if s.Answer != "" {
		fmt.Fprintf(b, "\nYour answer: %s\n", s.Answer)
	} else {
		b.WriteString("\nType your answer and press enter.\n")
	}
}

func renderScores(b *strings.Builder, s quiz.State) {
	if s.CorrectAnswer != "" {
		fmt.Fprintf(b, "Correct answer: %s\n", s.CorrectAnswer)
	}
	b.WriteString("Scores:\n")

	width := 0
	for _, sc := range s.Scores {
		width = max(width, len(sc.Name))
	}
	for i, sc := range s.Scores {
		marker := " "
		if sc.Name == s.PlayerName {
			marker = "*"
		}
		fmt.Fprintf(b, "%s %d. %-*s %d\n", marker, i+1, width, sc.Name, sc.Score)
	}
}
