package terminal

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/ugobenoist/quiz/game/quiz"
	"github.com/ugobenoist/quiz/game/service"
)

const helpText = `Commands:
  room <code>     set the room code
  name <name>     set your player name
  create          create a new room
  join [code]     join a room
  start           start the game (host)
  answer <text>   answer the current question
  help            show this help
  quit            leave
While a question is active, any other text is sent as your answer.
`

// Prompt reads line commands and drives one session
type Prompt struct {
	svc       service.QuizService
	sessionID string
	in        io.Reader

	mu  sync.Mutex
	out io.Writer
}

// NewPrompt creates a prompt for sessionID reading from in and writing to out
func NewPrompt(svc service.QuizService, sessionID string, in io.Reader, out io.Writer) *Prompt {
	return &Prompt{
		svc:       svc,
		sessionID: sessionID,
		in:        in,
		out:       out,
	}
}

// Run renders every snapshot of the session and executes input lines until
// quit, end of input or ctx is done.
func (p *Prompt) Run(ctx context.Context) error {
	updates, cancel, err := p.svc.Subscribe(ctx, p.sessionID)
	if err != nil {
		return err
	}

	rendered := make(chan struct{})
	go func() {
		defer close(rendered)
		for s := range updates {
			p.mu.Lock()
			Render(p.out, s)
			p.mu.Unlock()
		}
	}()
	defer func() {
		cancel()
		<-rendered
	}()

	lines := make(chan string)
	readErr := make(chan error, 1)
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		scanner := bufio.NewScanner(p.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-stop:
				return
			}
		}
		readErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErr:
			return err
		case line := <-lines:
			quit, err := p.Execute(ctx, line)
			if err != nil {
				p.printf("error: %v\n", err)
			}
			if quit {
				return nil
			}
		}
	}
}

// Execute runs one input line. It reports whether the user asked to quit.
func (p *Prompt) Execute(ctx context.Context, line string) (bool, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false, nil
	}

	word, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	var err error
	switch strings.ToLower(word) {
	case "room":
		_, err = p.svc.SetRoomCode(ctx, p.sessionID, rest)
	case "name":
		_, err = p.svc.SetPlayerName(ctx, p.sessionID, rest)
	case "create":
		_, err = p.svc.CreateGame(ctx, p.sessionID)
	case "join":
		_, err = p.svc.JoinGame(ctx, p.sessionID, rest)
	case "start":
		_, err = p.svc.StartGame(ctx, p.sessionID)
	case "answer":
		_, err = p.svc.SubmitAnswer(ctx, p.sessionID, rest)
	case "help", "?":
		p.printf("%s", helpText)
	case "quit", "exit":
		return true, nil
	default:
		return false, p.freeText(ctx, line)
	}
	return false, err
}

// freeText answers the active question, or prints help outside of one
func (p *Prompt) freeText(ctx context.Context, line string) error {
	state, err := p.svc.GetState(ctx, p.sessionID)
	if err != nil {
		return err
	}
	if state.Phase != quiz.PhaseInQuestion {
		p.printf("%s", helpText)
		return nil
	}
	_, err = p.svc.SubmitAnswer(ctx, p.sessionID, line)
	return err
}

func (p *Prompt) printf(format string, args ...interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, format, args...)
}
