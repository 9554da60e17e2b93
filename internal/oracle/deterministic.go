package oracle

import (
	"context"
	"math/rand"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/crispai/crisp/internal/domain"
)

// Rand is the source of the scoring offset. Injected so tests can pin it.
type Rand interface {
	Intn(n int) int
}

// Deterministic is the local oracle used when no remote is configured or
// the remote call fails. Question set, scoring thresholds and summary
// tiers are fixed.
type Deterministic struct {
	rnd Rand
}

// NewDeterministic creates the local oracle. A nil rnd uses the shared
// math/rand source.
func NewDeterministic(rnd Rand) *Deterministic {
	if rnd == nil {
		rnd = rand.New(rand.NewSource(rand.Int63()))
	}

	return &Deterministic{rnd: rnd}
}

// GenerateQuestions returns the built-in question set: 2 easy, 2 medium,
// 2 hard, with time limits 20/60/120 seconds.
func (*Deterministic) GenerateQuestions(_ context.Context, _ domain.Profile) ([]domain.Question, error) {
	return fixedQuestions(), nil
}

func fixedQuestions() []domain.Question {
	return []domain.Question{
		{
			Text:             "What is the difference between var, let, and const in JavaScript?",
			Difficulty:       domain.DifficultyEasy,
			TimeLimitSeconds: 20,
		},
		{
			Text:             "Explain the concept of closures in JavaScript with an example.",
			Difficulty:       domain.DifficultyEasy,
			TimeLimitSeconds: 20,
		},
		{
			Text:             "What are React Hooks and why were they introduced? Explain useState and useEffect.",
			Difficulty:       domain.DifficultyMedium,
			TimeLimitSeconds: 60,
		},
		{
			Text:             "Explain the difference between SQL and NoSQL databases. When would you use each?",
			Difficulty:       domain.DifficultyMedium,
			TimeLimitSeconds: 60,
		},
		{
			Text:             "Design a RESTful API for a blog application. Include endpoints for posts, comments, and user authentication.",
			Difficulty:       domain.DifficultyHard,
			TimeLimitSeconds: 120,
		},
		{
			Text:             "Explain how you would optimize the performance of a React application. Discuss at least 5 different techniques.",
			Difficulty:       domain.DifficultyHard,
			TimeLimitSeconds: 120,
		},
	}
}

// ScoreAnswer scores by word count against per-difficulty thresholds,
// then adds a random offset in [-5, +4] and clamps to [0, 100]. An
// empty or whitespace-only answer always scores 0.
func (d *Deterministic) ScoreAnswer(_ context.Context, _, answer string, difficulty domain.Difficulty) (int, error) {
	if strings.TrimSpace(answer) == "" {
		return 0, nil
	}

	base := BaseScore(answer, difficulty)

	return Clamp(base + d.rnd.Intn(10) - 5), nil
}

// BaseScore is the word-count bracket before the random offset.
func BaseScore(answer string, difficulty domain.Difficulty) int {
	words := len(strings.Fields(answer))

	switch difficulty {
	case domain.DifficultyEasy:
		switch {
		case words >= 30:
			return 80
		case words >= 15:
			return 60
		case words >= 5:
			return 40
		default:
			return 20
		}
	case domain.DifficultyMedium:
		switch {
		case words >= 50:
			return 75
		case words >= 30:
			return 55
		case words >= 15:
			return 35
		default:
			return 20
		}
	default:
		switch {
		case words >= 100:
			return 70
		case words >= 50:
			return 50
		case words >= 25:
			return 30
		default:
			return 15
		}
	}
}

// Clamp bounds a score to [0, 100]. Out-of-range oracle output is never
// stored.
func Clamp(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// Summarize picks one of three canned summaries by mean score:
// >= 70, [50, 70), and below 50.
func (*Deterministic) Summarize(_ context.Context, _ string, scores []int) (string, error) {
	mean := MeanScore(scores)

	switch {
	case mean.GreaterThanOrEqual(decimal.NewFromInt(70)):
		return "Excellent performance demonstrated strong technical knowledge across all difficulty levels. The candidate showed good problem-solving skills and clear communication. Recommended for next round.", nil
	case mean.GreaterThanOrEqual(decimal.NewFromInt(50)):
		return "Good overall performance with solid understanding of fundamental concepts. Some areas need improvement, particularly in complex problem-solving. Consider for next round with additional technical assessment.", nil
	default:
		return "The candidate showed basic understanding but struggled with more complex questions. Further technical training recommended before advancing. Areas of improvement include depth of knowledge and practical application.", nil
	}
}

// MeanScore is the average of the per-question scores.
func MeanScore(scores []int) decimal.Decimal {
	if len(scores) == 0 {
		return decimal.Zero
	}

	sum := decimal.Zero
	for _, s := range scores {
		sum = sum.Add(decimal.NewFromInt(int64(s)))
	}

	return sum.Div(decimal.NewFromInt(int64(len(scores))))
}
