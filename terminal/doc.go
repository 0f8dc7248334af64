// Package terminal is the text front end of a quiz session.
//
// Render draws exactly one view per phase: the entry screen, the lobby,
// the active question or the scoreboard. Prompt turns input lines into
// session edits and commands and re-renders after every change.
package terminal
