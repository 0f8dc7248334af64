package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// Defaults
const (
	DefaultServerURL  = "http://localhost:3001"
	DefaultHost       = "localhost"
	DefaultPort       = 8080
	DefaultSessionTTL = 24 * time.Hour
)

// Config holds everything the quiz binary needs to run
type Config struct {
	// Quiz server to connect players to
	ServerURL  string
	PlayerName string

	// Local control API
	Host       string
	Port       int
	SessionTTL time.Duration

	Debug bool

	// Public tunnel for the control API
	NgrokEnabled   bool
	NgrokAuthToken string
	NgrokDomain    string
}

// Default returns the built-in configuration
func Default() Config {
	return Config{
		ServerURL:  DefaultServerURL,
		Host:       DefaultHost,
		Port:       DefaultPort,
		SessionTTL: DefaultSessionTTL,
	}
}

// Load reads .env files into the process environment, then builds the
// configuration from it. Missing .env files are not an error.
func Load(envFiles ...string) (Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load env file: %w", err)
	}
	return FromEnv(os.LookupEnv)
}

// FromEnv builds a configuration from defaults overridden by lookup
func FromEnv(lookup func(string) (string, bool)) (Config, error) {
	c := Default()

	get := func(keys ...string) (string, bool) {
		for _, k := range keys {
			if v, ok := lookup(k); ok && strings.TrimSpace(v) != "" {
				return strings.TrimSpace(v), true
			}
		}
		return "", false
	}

	if v, ok := get("QUIZ_SERVER_URL"); ok {
		c.ServerURL = v
	}
	if v, ok := get("QUIZ_PLAYER_NAME"); ok {
		c.PlayerName = v
	}
	if v, ok := get("QUIZ_HOST"); ok {
		c.Host = v
	}
	if v, ok := get("QUIZ_PORT", "PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("%w: port %q", ErrInvalidConfig, v)
		}
		c.Port = port
	}
	if v, ok := get("QUIZ_SESSION_TTL"); ok {
		ttl, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("%w: session ttl %q", ErrInvalidConfig, v)
		}
		c.SessionTTL = ttl
	}
	if v, ok := get("QUIZ_DEBUG"); ok {
		c.Debug = parseBool(v)
	}
	if v, ok := get("NGROK_ENABLED"); ok {
		c.NgrokEnabled = parseBool(v)
	}
	if v, ok := get("NGROK_AUTHTOKEN", "NGROK_AUTH_TOKEN"); ok {
		c.NgrokAuthToken = v
	}
	if v, ok := get("NGROK_DOMAIN"); ok {
		c.NgrokDomain = v
	}

	return c, nil
}

// parseBool accepts what strconv.ParseBool accepts plus yes/on
func parseBool(v string) bool {
	switch strings.ToLower(v) {
	case "yes", "on":
		return true
	}
	b, _ := strconv.ParseBool(v)
	return b
}

// Validate checks the configuration is usable
func (c Config) Validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("%w: server URL is required", ErrInvalidConfig)
	}
	u, err := url.Parse(c.ServerURL)
	if err != nil {
		return fmt.Errorf("%w: server URL: %v", ErrInvalidConfig, err)
	}
	switch u.Scheme {
	case "http", "https", "ws", "wss":
	default:
		return fmt.Errorf("%w: server URL scheme %q", ErrInvalidConfig, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: server URL has no host", ErrInvalidConfig)
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidConfig, c.Port)
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("%w: session ttl must be positive", ErrInvalidConfig)
	}
	if c.NgrokEnabled && c.NgrokAuthToken == "" {
		return fmt.Errorf("%w: ngrok enabled without an auth token", ErrInvalidConfig)
	}
	return nil
}

// Addr is the control API listen address
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
