package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"google.golang.org/genai"

	"github.com/crispai/crisp/internal/domain"
	"github.com/crispai/crisp/internal/errors"
)

const defaultModel = "gemini-2.0-flash"

const questionCount = 6

// Gemini is the remote oracle backed by the Gemini API.
type Gemini struct {
	client *genai.Client
	model  string
}

// NewGemini creates the remote oracle. An empty model falls back to the
// default.
func NewGemini(ctx context.Context, apiKey, model string) (*Gemini, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	if model = strings.TrimSpace(model); model == "" {
		model = defaultModel
	}

	return &Gemini{client: client, model: model}, nil
}

var (
	jsonArrayRe = regexp.MustCompile(`(?s)\[.*\]`)
	intRe       = regexp.MustCompile(`\d+`)
)

func (g *Gemini) GenerateQuestions(ctx context.Context, profile domain.Profile) ([]domain.Question, error) {
	prompt := fmt.Sprintf(`Generate %d interview questions for a Full Stack Developer (React/Node.js) position.

Candidate Profile:
- Name: %s
- Email: %s

Requirements:
- 2 Easy questions (fundamental concepts)
- 2 Medium questions (practical application)
- 2 Hard questions (system design, optimization)

Return ONLY a valid JSON array with this exact structure:
[
  {
    "question": "Question text here",
    "difficulty": "easy",
    "timeLimit": 20
  }
]

Time limits: Easy=20s, Medium=60s, Hard=120s
Make questions specific, practical, and relevant to full stack development.`,
		questionCount, profile.Name, profile.Email)

	text, err := g.generate(ctx, prompt)
	if err != nil {
		return nil, err
	}

	raw := jsonArrayRe.FindString(text)
	if raw == "" {
		return nil, errors.New(errors.CodeUnavailable,
			errors.WithMessagef("gemini: no JSON array in question response"))
	}

	var questions []domain.Question
	if err := json.Unmarshal([]byte(raw), &questions); err != nil {
		return nil, errors.New(errors.CodeUnavailable,
			errors.WithMessagef("gemini: unparsable question payload"),
			errors.WithCause(err))
	}

	if len(questions) != questionCount {
		return nil, errors.New(errors.CodeUnavailable,
			errors.WithMessagef("gemini: expected %d questions, got %d", questionCount, len(questions)))
	}

	for i := range questions {
		if questions[i].Text == "" {
			return nil, errors.New(errors.CodeUnavailable,
				errors.WithMessagef("gemini: question %d has no text", i))
		}
		if questions[i].TimeLimitSeconds <= 0 {
			questions[i].TimeLimitSeconds = questions[i].Difficulty.DefaultTimeLimit()
		}
	}

	return questions, nil
}

func (g *Gemini) ScoreAnswer(ctx context.Context, question, answer string, difficulty domain.Difficulty) (int, error) {
	prompt := fmt.Sprintf(`Score this interview answer on a scale of 0-100.

Question: %s
Difficulty: %s
Answer: %s

Evaluation Criteria:
- Technical accuracy (40%%)
- Completeness (30%%)
- Clarity of explanation (20%%)
- Practical examples (10%%)

Return ONLY a number between 0 and 100. Nothing else.`,
		question, difficulty, answer)

	text, err := g.generate(ctx, prompt)
	if err != nil {
		return 0, err
	}

	raw := intRe.FindString(text)
	if raw == "" {
		return 0, errors.New(errors.CodeUnavailable,
			errors.WithMessagef("gemini: no score in response %q", text))
	}

	score, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New(errors.CodeUnavailable,
			errors.WithMessagef("gemini: unparsable score %q", raw),
			errors.WithCause(err))
	}

	return Clamp(score), nil
}

func (g *Gemini) Summarize(ctx context.Context, candidateName string, scores []int) (string, error) {
	parts := make([]string, 0, len(scores))
	for _, s := range scores {
		parts = append(parts, strconv.Itoa(s))
	}

	prompt := fmt.Sprintf(`Generate a concise interview summary (2-3 sentences) for this candidate.

Candidate: %s
Average Score: %s/100
Individual Scores: %s

Focus on:
1. Overall performance level
2. Key strengths observed
3. Areas for improvement (if any)

Keep it professional and constructive.`,
		candidateName, MeanScore(scores).StringFixed(1), strings.Join(parts, ", "))

	return g.generate(ctx, prompt)
}

func (g *Gemini) generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), nil)
	if err != nil {
		return "", errors.New(errors.CodeUnavailable,
			errors.WithMessagef("gemini: generate content failed"),
			errors.WithCause(err))
	}

	var b strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part == nil || part.Text == "" {
				continue
			}
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			b.WriteString(part.Text)
		}
	}

	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", errors.New(errors.CodeUnavailable,
			errors.WithMessagef("gemini: empty response"))
	}

	return text, nil
}
