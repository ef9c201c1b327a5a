package session

import (
	"time"

	"codask/internal/planner"
	"codask/internal/retrieval"
)

// Mode is how a turn obtained its context bundle.
type Mode string

const (
	ModeReuse   Mode = "reuse"
	ModeMerge   Mode = "merge"
	ModeRefresh Mode = "refresh"
	// ModeNone marks a turn answered without repository context.
	ModeNone Mode = "none"
)

// Fingerprint is what the router compares the next query against.
type Fingerprint struct {
	Query     string    `json:"query"`
	Embedding []float32 `json:"embedding,omitempty"`
}

// Turn is one answered question. Turns are never modified once appended.
type Turn struct {
	Index            int                `json:"index"`
	Query            string             `json:"query"`
	Mode             Mode               `json:"mode"`
	Reason           string             `json:"reason,omitempty"`
	Bundle           retrieval.Bundle   `json:"bundle"`
	Answer           string             `json:"answer"`
	Plan             *planner.Execution `json:"plan,omitempty"`
	GenerationFailed bool               `json:"generation_failed,omitempty"`
	Degraded         bool               `json:"degraded,omitempty"`
	Error            string             `json:"error,omitempty"`
	Fingerprint      Fingerprint        `json:"fingerprint"`
	At               time.Time          `json:"at"`
}

// State is the conversation of one session.
type State struct {
	ID              string       `json:"id"`
	Turns           []Turn       `json:"turns"`
	LastFingerprint *Fingerprint `json:"last_fingerprint,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	LastActive      time.Time    `json:"last_active"`
}

func (s State) LastTurn() (Turn, bool) {
	if len(s.Turns) == 0 {
		return Turn{}, false
	}
	return s.Turns[len(s.Turns)-1], true
}

// Clone copies the turn history so the caller cannot alias session storage.
func (s State) Clone() State {
	out := s
	out.Turns = append([]Turn(nil), s.Turns...)
	if s.LastFingerprint != nil {
		fp := *s.LastFingerprint
		fp.Embedding = append([]float32(nil), fp.Embedding...)
		out.LastFingerprint = &fp
	}
	return out
}

// Recent returns at most n of the latest turns, oldest first.
func (s State) Recent(n int) []Turn {
	if n <= 0 || len(s.Turns) == 0 {
		return nil
	}
	if len(s.Turns) <= n {
		return append([]Turn(nil), s.Turns...)
	}
	return append([]Turn(nil), s.Turns[len(s.Turns)-n:]...)
}
