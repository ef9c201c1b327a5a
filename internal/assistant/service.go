// Package assistant is the conversation facade: one Ask call routes the
// query, optionally runs the planner, and appends the answered turn to its
// session.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"codask/internal/answer"
	"codask/internal/ir"
	"codask/internal/knowledge"
	"codask/internal/planner"
	"codask/internal/retrieval"
	"codask/internal/router"
	"codask/internal/session"
	"codask/internal/telemetry"
	"codask/internal/vectorindex"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var (
	ErrEmptyQuery   = errors.New("query is empty")
	ErrEmptySession = errors.New("session id is empty")
)

// Router picks the context bundle of a turn.
type Router interface {
	Route(ctx context.Context, snapshot session.State, query string) (router.Decision, error)
}

// Planner runs the debugging agent.
type Planner interface {
	Run(ctx context.Context, query string, bundle retrieval.Bundle, mentions []string) *planner.Execution
}

// Synthesizer phrases the final answer.
type Synthesizer interface {
	Synthesize(ctx context.Context, req answer.Request) answer.Answer
}

// Answer is what Ask returns to callers.
type Answer struct {
	SessionID        string             `json:"session_id"`
	Turn             int                `json:"turn"`
	Text             string             `json:"text"`
	Evidence         string             `json:"evidence"`
	Sources          []ir.UnitRef       `json:"sources"`
	Plan             *planner.Execution `json:"plan,omitempty"`
	Mode             session.Mode       `json:"mode"`
	Reason           string             `json:"reason"`
	GenerationFailed bool               `json:"generation_failed"`
	Degraded         bool               `json:"degraded"`
}

type Service struct {
	sessions *session.Manager
	router   Router
	planner  Planner
	synth    Synthesizer
	window   int
	logger   *slog.Logger
}

type Option func(*Service)

func WithHistoryWindow(n int) Option {
	return func(s *Service) { s.window = n }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New wires the facade. planner may be nil, in which case debug queries
// are answered from the bundle alone.
func New(sessions *session.Manager, r Router, p Planner, synth Synthesizer, opts ...Option) *Service {
	s := &Service{
		sessions: sessions,
		router:   r,
		planner:  p,
		synth:    synth,
		window:   answer.DefaultHistoryWindow,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ask answers query within session sessionID. An empty id starts a new
// session whose id is returned in the answer.
func (s *Service) Ask(ctx context.Context, sessionID, query string) (Answer, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return Answer{}, ErrEmptyQuery
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	start := time.Now()
	ctx, span := telemetry.Tracer("assistant").Start(ctx, "assistant.Ask")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", sessionID))

	logger := s.logger.With("session_id", sessionID)
	var out answer.Answer

	state, err := s.sessions.Do(ctx, sessionID, func(ctx context.Context, snap session.State) (*session.Turn, error) {
		turn, ans, err := s.turn(ctx, logger, snap, query)
		if err != nil {
			return nil, err
		}
		out = ans
		return turn, nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "ask failed")
		return Answer{SessionID: sessionID}, err
	}

	last, _ := state.LastTurn()
	telemetry.AskDuration.WithLabelValues(string(last.Mode)).Observe(time.Since(start).Seconds())
	span.SetAttributes(
		attribute.String("ask.mode", string(last.Mode)),
		attribute.Bool("ask.degraded", last.Degraded),
		attribute.Bool("ask.generation_failed", last.GenerationFailed),
	)
	logger.Info("turn answered", "turn", last.Index, "mode", last.Mode, "reason", last.Reason,
		"degraded", last.Degraded, "generation_failed", last.GenerationFailed, "elapsed", time.Since(start))

	return Answer{
		SessionID:        sessionID,
		Turn:             last.Index,
		Text:             out.Text,
		Evidence:         out.Evidence,
		Sources:          out.Sources,
		Plan:             out.Plan,
		Mode:             last.Mode,
		Reason:           last.Reason,
		GenerationFailed: out.GenerationFailed,
		Degraded:         out.Degraded,
	}, nil
}

// turn computes the next turn from a snapshot. It never touches the session.
func (s *Service) turn(ctx context.Context, logger *slog.Logger, snap session.State, query string) (*session.Turn, answer.Answer, error) {
	d, err := s.router.Route(ctx, snap, query)
	turn := &session.Turn{
		Query:       query,
		Mode:        d.Mode,
		Reason:      d.Reason,
		Bundle:      d.Bundle,
		Fingerprint: d.Fingerprint,
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, answer.Answer{}, ctxErr
		}
		if !vectorindex.IsRetrievalError(err) {
			return nil, answer.Answer{}, fmt.Errorf("route query: %w", err)
		}
		logger.Warn("retrieval unavailable, answering without repository context", "error", err)
		turn.Mode = session.ModeNone
		turn.Bundle = retrieval.Bundle{Query: query}
		turn.Degraded = true
		turn.Error = err.Error()
	}

	if d.Debug && !turn.Degraded && s.planner != nil {
		turn.Plan = s.planner.Run(ctx, query, turn.Bundle, d.Mentions.Names)
	}

	ans := s.synth.Synthesize(ctx, answer.Request{
		Query:    query,
		Bundle:   turn.Bundle,
		Plan:     turn.Plan,
		History:  exchanges(snap.Recent(s.window)),
		Degraded: turn.Degraded,
	})
	turn.Answer = ans.Text
	turn.GenerationFailed = ans.GenerationFailed
	return turn, ans, nil
}

func exchanges(turns []session.Turn) []knowledge.Exchange {
	out := make([]knowledge.Exchange, 0, len(turns))
	for _, t := range turns {
		out = append(out, knowledge.Exchange{Query: t.Query, Answer: t.Answer})
	}
	return out
}

// ResetSession clears the history of a session.
func (s *Service) ResetSession(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return ErrEmptySession
	}
	if err := s.sessions.Reset(ctx, sessionID); err != nil {
		return err
	}
	return nil
}

// History returns a copy of the session's turns, oldest first.
func (s *Service) History(ctx context.Context, sessionID string) ([]session.Turn, error) {
	if sessionID == "" {
		return nil, ErrEmptySession
	}
	return s.sessions.History(ctx, sessionID)
}

func (s *Service) Close() error {
	return s.sessions.Close()
}
