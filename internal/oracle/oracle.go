// Package oracle holds the external decision-making services consulted by
// the interview core: question generation, answer scoring and summary
// writing. Every oracle has a remote variant backed by the Gemini API and
// a deterministic variant, composed via WithFallback so the interview can
// always complete.
package oracle

import (
	"context"
	"log/slog"

	"github.com/crispai/crisp/internal/domain"
)

// Questions supplies the ordered question list for a session.
type Questions interface {
	GenerateQuestions(ctx context.Context, profile domain.Profile) ([]domain.Question, error)
}

// Scorer scores one answer in [0, 100].
type Scorer interface {
	ScoreAnswer(ctx context.Context, question, answer string, difficulty domain.Difficulty) (int, error)
}

// Summarizer writes a short interview summary from the candidate's scores.
type Summarizer interface {
	Summarize(ctx context.Context, candidateName string, scores []int) (string, error)
}

// Oracle bundles the three capabilities.
type Oracle interface {
	Questions
	Scorer
	Summarizer
}

// WithFallback returns an Oracle that consults primary first and falls
// back to secondary when the primary call fails. A nil primary always
// uses the fallback, which matches running without an API key.
// onFallback, if set, is invoked with the operation name on every
// recovered failure.
func WithFallback(primary, fallback Oracle, onFallback func(op string)) Oracle {
	return &fallbackOracle{
		primary:    primary,
		fallback:   fallback,
		onFallback: onFallback,
	}
}

type fallbackOracle struct {
	primary    Oracle
	fallback   Oracle
	onFallback func(op string)
}

func (o *fallbackOracle) GenerateQuestions(ctx context.Context, profile domain.Profile) ([]domain.Question, error) {
	if o.primary != nil {
		qs, err := o.primary.GenerateQuestions(ctx, profile)
		if err == nil {
			return qs, nil
		}
		o.recovered(ctx, "generate_questions", err)
	}

	return o.fallback.GenerateQuestions(ctx, profile)
}

func (o *fallbackOracle) ScoreAnswer(ctx context.Context, question, answer string, difficulty domain.Difficulty) (int, error) {
	if o.primary != nil {
		score, err := o.primary.ScoreAnswer(ctx, question, answer, difficulty)
		if err == nil {
			return score, nil
		}
		o.recovered(ctx, "score_answer", err)
	}

	return o.fallback.ScoreAnswer(ctx, question, answer, difficulty)
}

func (o *fallbackOracle) Summarize(ctx context.Context, candidateName string, scores []int) (string, error) {
	if o.primary != nil {
		summary, err := o.primary.Summarize(ctx, candidateName, scores)
		if err == nil {
			return summary, nil
		}
		o.recovered(ctx, "summarize", err)
	}

	return o.fallback.Summarize(ctx, candidateName, scores)
}

func (o *fallbackOracle) recovered(ctx context.Context, op string, err error) {
	slog.WarnContext(ctx, "oracle: remote call failed, using fallback",
		"op", op,
		"error", err,
	)

	if o.onFallback != nil {
		o.onFallback(op)
	}
}
