package prompt

import (
	_ "embed"
	"strings"
)

var (
	//go:embed template/session.txt
	sessionRaw string

	//go:embed template/goals.txt
	goalsRaw string

	//go:embed template/coach.txt
	coachRaw string

	//go:embed template/drift.txt
	driftRaw string
)

// PromptSet holds loaded prompt content.
type PromptSet struct {
	Session string
	Goals   string
	Coach   string
	Drift   string
}

// LoadPromptSet returns a PromptSet with trimmed prompt strings.
// This is safe to call concurrently; the embed is compile-time, and trimming is cheap.
func LoadPromptSet() PromptSet {
	return PromptSet{
		Session: strings.TrimSpace(sessionRaw),
		Goals:   strings.TrimSpace(goalsRaw),
		Coach:   strings.TrimSpace(coachRaw),
		Drift:   strings.TrimSpace(driftRaw),
	}
}
