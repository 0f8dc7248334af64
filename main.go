// Command quiz is a client for a multiplayer quiz server.
//
// It supports three modes:
//  1. "play" (default) – joins the quiz as one player from the terminal
//  2. "serve" – runs the local control API (REST, watcher WebSocket, /mcp) driving any number of players
//  3. "mcp" – runs an MCP stdio server and spins up an internal control API if none is available
//
// Settings come from defaults, the environment (a .env file is loaded when
// present) and flags, in that order.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/ugobenoist/quiz/game/config"
	"github.com/ugobenoist/quiz/game/service"
	"github.com/ugobenoist/quiz/game/session"
	"github.com/ugobenoist/quiz/transport/websocket"
)

// Version information
const (
	Version = "1.0.0"
	AppName = "quiz"
)

// Modes
const (
	modePlay  = "play"
	modeServe = "serve"
	modeMCP   = "mcp"
)

// runner starts one mode with a resolved configuration
type runner func(ctx context.Context, mode string, cfg config.Config) error

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand(runMode).Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", AppName, err)
		os.Exit(1)
	}
}

// newRootCommand builds the CLI. Every mode resolves its configuration the
// same way and hands it to run.
func newRootCommand(run runner) *cli.Command {
	action := func(mode string) cli.ActionFunc {
		return func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			return run(ctx, mode, cfg)
		}
	}

	return &cli.Command{
		Name:    AppName,
		Usage:   "multiplayer quiz client",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server",
				Aliases: []string{"s"},
				Usage:   "quiz server URL (env QUIZ_SERVER_URL)",
			},
			&cli.StringFlag{
				Name:    "name",
				Aliases: []string{"n"},
				Usage:   "player name (env QUIZ_PLAYER_NAME)",
			},
			&cli.StringFlag{
				Name:  "host",
				Usage: "control API host (env QUIZ_HOST)",
			},
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "control API port (env QUIZ_PORT)",
			},
			&cli.DurationFlag{
				Name:  "session-ttl",
				Usage: "close sessions idle for longer than this (env QUIZ_SESSION_TTL)",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "enable development logging (env QUIZ_DEBUG)",
			},
			&cli.BoolFlag{
				Name:  "ngrok",
				Usage: "expose the control API through an ngrok tunnel (env NGROK_ENABLED)",
			},
			&cli.StringFlag{
				Name:  "ngrok-auth",
				Usage: "ngrok auth token (env NGROK_AUTHTOKEN)",
			},
			&cli.StringFlag{
				Name:  "ngrok-domain",
				Usage: "custom ngrok domain (env NGROK_DOMAIN)",
			},
			&cli.StringFlag{
				Name:  "env-file",
				Value: ".env",
				Usage: "environment file to load",
			},
		},
		DefaultCommand: modePlay,
		Commands: []*cli.Command{
			{
				Name:   modePlay,
				Usage:  "join the quiz from the terminal",
				Action: action(modePlay),
			},
			{
				Name:    modeServe,
				Aliases: []string{"server", "http"},
				Usage:   "run the control API with REST, watcher WebSocket and /mcp",
				Action:  action(modeServe),
			},
			{
				Name:    modeMCP,
				Aliases: []string{"stdio-mcp", "mcp-stdio"},
				Usage:   "run an MCP stdio server",
				Action:  action(modeMCP),
			},
		},
	}
}

// resolveConfig loads the environment and applies the flags that were set
func resolveConfig(cmd *cli.Command) (config.Config, error) {
	cfg, err := config.Load(cmd.String("env-file"))
	if err != nil {
		return config.Config{}, err
	}

	if cmd.IsSet("server") {
		cfg.ServerURL = cmd.String("server")
	}
	if cmd.IsSet("name") {
		cfg.PlayerName = cmd.String("name")
	}
	if cmd.IsSet("host") {
		cfg.Host = cmd.String("host")
	}
	if cmd.IsSet("port") {
		cfg.Port = int(cmd.Int("port"))
	}
	if cmd.IsSet("session-ttl") {
		cfg.SessionTTL = cmd.Duration("session-ttl")
	}
	if cmd.IsSet("debug") {
		cfg.Debug = cmd.Bool("debug")
	}
	if cmd.IsSet("ngrok") {
		cfg.NgrokEnabled = cmd.Bool("ngrok")
	}
	if cmd.IsSet("ngrok-auth") {
		cfg.NgrokAuthToken = cmd.String("ngrok-auth")
	}
	if cmd.IsSet("ngrok-domain") {
		cfg.NgrokDomain = cmd.String("ngrok-domain")
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// runMode sets up logging and starts the selected mode
func runMode(ctx context.Context, mode string, cfg config.Config) error {
	logger, err := newLogger(cfg.Debug)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync()

	logger.Info("starting",
		zap.String("app", AppName),
		zap.String("version", Version),
		zap.String("mode", mode),
		zap.String("server", cfg.ServerURL))

	switch mode {
	case modePlay:
		return runPlay(ctx, cfg, logger)
	case modeServe:
		return runHTTPServer(ctx, cfg, logger)
	case modeMCP:
		return runStdioMCPWithInternalServer(ctx, cfg, logger)
	default:
		return fmt.Errorf("unknown mode: %s", mode)
	}
}

// newLogger returns a development logger in debug mode and a production one
// otherwise. Both write to stderr so stdout stays free for the terminal view
// and the MCP stdio stream.
func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		cfg := zap.NewDevelopmentConfig()
		cfg.OutputPaths = []string{"stderr"}
		return cfg.Build()
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	return cfg.Build()
}

// newDialer connects each new session to the quiz server with its own socket
func newDialer(cfg config.Config, logger *zap.Logger) session.Dialer {
	return func(ctx context.Context) (session.Conn, error) {
		return websocket.Dial(ctx, cfg.ServerURL, websocket.WithLogger(logger))
	}
}

// initializeServices wires the session manager and the quiz service.
// It also starts a background cleanup routine to prune idle sessions.
func initializeServices(ctx context.Context, cfg config.Config, dial session.Dialer, broadcaster service.Broadcaster, logger *zap.Logger) (service.QuizService, *session.Manager, error) {
	manager, err := session.NewManager(dial, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create session manager: %w", err)
	}

	opts := []service.Option{service.WithLogger(logger)}
	if broadcaster != nil {
		opts = append(opts, service.WithBroadcaster(broadcaster))
	}
	quizService := service.NewQuizService(manager, opts...)

	go sessionCleanupRoutine(ctx, manager, cfg.SessionTTL, logger)

	return quizService, manager, nil
}

// cleanupInterval is how often idle sessions are looked for
func cleanupInterval(ttl time.Duration) time.Duration {
	interval := time.Hour
	if ttl/2 < interval {
		interval = ttl / 2
	}
	if interval < time.Second {
		interval = time.Second
	}
	return interval
}

// sessionCleanupRoutine periodically closes sessions that have not been used
// within ttl
func sessionCleanupRoutine(ctx context.Context, manager *session.Manager, ttl time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(cleanupInterval(ttl))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := manager.CleanupExpiredSessions(ttl); removed > 0 {
				logger.Info("cleaned up expired sessions", zap.Int("count", removed))
			}
		}
	}
}
