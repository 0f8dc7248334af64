// Command replay feeds a recorded quiz transcript through a client session
// and prints the state after every event. Transcripts are JSON lines:
//
//	{"event": "game_created", "data": "ABCD"}
//	{"event": "players_update", "data": ["alice", "bob"]}
//
// Lines that are not valid envelopes, or whose data does not decode for
// their event, are reported with their line number and skipped.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/ugobenoist/quiz/game/quiz"
	"github.com/ugobenoist/quiz/transport/loopback"
)

// maxLineSize bounds one transcript line
const maxLineSize = 1 << 20

// Summary counts what a replay went through
type Summary struct {
	Events    int
	Malformed int
	Unknown   int
	Final     quiz.State
}

type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func main() {
	cmd := &cli.Command{
		Name:      "replay",
		Usage:     "replay a quiz transcript through a client session",
		ArgsUsage: "[transcript.jsonl ...]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "player",
				Value: "replay",
				Usage: "player name of the replayed session",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "log every transition",
			},
		},
		Action: run,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "replay: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	logger := zap.NewNop()
	if cmd.Bool("debug") {
		l, err := zap.NewDevelopment()
		if err != nil {
			return err
		}
		logger = l
		defer logger.Sync()
	}

	paths := cmd.Args().Slice()
	if len(paths) == 0 {
		paths = []string{"-"}
	}

	for _, path := range paths {
		in, closeFn, err := open(path)
		if err != nil {
			return err
		}
		fmt.Printf("=== %s ===\n", path)
		summary, err := replay(in, os.Stdout, cmd.String("player"), logger)
		closeFn()
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		fmt.Printf("--- %d events, %d malformed, %d unknown, final phase %s\n",
			summary.Events, summary.Malformed, summary.Unknown, summary.Final.Phase)
	}
	return nil
}

func open(path string) (io.Reader, func(), error) {
	if path == "-" {
		return os.Stdin, func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { f.Close() }, nil
}

// replay runs every line of in through a fresh machine and writes one
// status line per event to out
func replay(in io.Reader, out io.Writer, player string, logger *zap.Logger) (Summary, error) {
	var summary Summary

	machine, err := quiz.NewMachine(loopback.New(), player, logger)
	if err != nil {
		return summary, err
	}

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		var env envelope
		if err := json.Unmarshal([]byte(line), &env); err != nil || env.Event == "" {
			if err == nil {
				err = errors.New("missing event name")
			}
			summary.Malformed++
			fmt.Fprintf(out, "line %d: malformed: %v\n", lineNo, err)
			continue
		}

		if err := machine.Apply(env.Event, env.Data); err != nil {
			switch {
			case errors.Is(err, quiz.ErrUnknownEvent):
				summary.Unknown++
				fmt.Fprintf(out, "line %d: unknown event %q\n", lineNo, env.Event)
				continue
			case errors.Is(err, quiz.ErrBadPayload):
				summary.Malformed++
				fmt.Fprintf(out, "line %d: malformed: %s: %v\n", lineNo, env.Event, err)
				continue
			}
			return summary, err
		}

		summary.Events++
		fmt.Fprintf(out, "%4d %-16s %s\n", lineNo, env.Event, describe(machine.Snapshot()))
	}
	if err := scanner.Err(); err != nil {
		return summary, err
	}

	summary.Final = machine.Snapshot()
	return summary, nil
}

// describe is the one-line form of a state
func describe(s quiz.State) string {
	var b strings.Builder
	fmt.Fprintf(&b, "phase=%s", s.Phase)
	if s.RoomCode != "" {
		fmt.Fprintf(&b, " room=%s", s.RoomCode)
	}
	if len(s.Players) > 0 {
		fmt.Fprintf(&b, " players=[%s]", strings.Join(s.Players, ","))
	}
	if s.Question != nil {
		fmt.Fprintf(&b, " q=%d/%d", s.Question.Index, s.Question.Total)
	}
	if len(s.Scores) > 0 {
		parts := make([]string, len(s.Scores))
		for i, sc := range s.Scores {
			parts[i] = fmt.Sprintf("%s:%d", sc.Name, sc.Score)
		}
		fmt.Fprintf(&b, " scores=[%s]", strings.Join(parts, ","))
	}
	if s.Error != nil {
		fmt.Fprintf(&b, " error=%q", *s.Error)
	}
	return b.String()
}
