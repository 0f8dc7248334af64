// Package config loads the quiz binary's settings.
//
// Values come from, in increasing precedence: built-in defaults, the
// environment (including a .env file), and command-line flags applied by
// the caller.
//
// Environment Variables:
//   - QUIZ_SERVER_URL: quiz server address (default http://localhost:3001)
//   - QUIZ_PLAYER_NAME: initial player name
//   - QUIZ_HOST, QUIZ_PORT (or PORT): control API address (default localhost:8080)
//   - QUIZ_SESSION_TTL: idle time before a session is closed (default 24h)
//   - QUIZ_DEBUG: development logging
//   - NGROK_ENABLED, NGROK_AUTHTOKEN (or NGROK_AUTH_TOKEN), NGROK_DOMAIN
package config
