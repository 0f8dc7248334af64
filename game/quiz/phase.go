package quiz

import "strings"

// DerivePhase computes the active view from session fields.
// Scores take precedence over a question that is still set.
func DerivePhase(joined bool, question *Question, scores []Score) Phase {
	switch {
	case !joined:
		return PhaseAwaitingJoin
	case len(scores) > 0:
		return PhaseShowingScores
	case question != nil:
		return PhaseInQuestion
	default:
		return PhaseLobby
	}
}

// NormalizeRoomCode upper-cases a room code as typed by the user
func NormalizeRoomCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// IsBlank reports whether s is empty or whitespace only
func IsBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}
