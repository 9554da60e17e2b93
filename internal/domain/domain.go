package domain

import (
	"time"
)

// Difficulty of an interview question.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// DefaultTimeLimit returns the per-question countdown for a difficulty tier.
func (d Difficulty) DefaultTimeLimit() int {
	switch d {
	case DifficultyMedium:
		return 60
	case DifficultyHard:
		return 120
	default:
		return 20
	}
}

// Question is one interview question. Immutable once the question list
// is fixed for a session.
type Question struct {
	Text             string     `json:"question"`
	Difficulty       Difficulty `json:"difficulty"`
	TimeLimitSeconds int        `json:"timeLimit"`
}

// Profile holds the fields extracted from a resume. Empty string means
// the field was not found.
type Profile struct {
	Name    string
	Email   string
	Phone   string
	RawText string
}

// Missing lists the profile fields that still need to be collected from
// the candidate before the interview can start.
func (p Profile) Missing() []string {
	var m []string
	if p.Name == "" {
		m = append(m, "name")
	}
	if p.Email == "" {
		m = append(m, "email")
	}
	if p.Phone == "" {
		m = append(m, "phone")
	}
	return m
}

// CandidateStatus is the lifecycle of a candidate record.
type CandidateStatus string

const (
	StatusInProgress CandidateStatus = "in-progress"
	StatusCompleted  CandidateStatus = "completed"
)

// CandidateRecord is one candidate's profile plus, after the interview,
// a copy of the session outcome. Owned by the registry; never deleted.
type CandidateRecord struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Email     string          `json:"email"`
	Phone     string          `json:"phone"`
	Status    CandidateStatus `json:"status"`
	Qualified bool            `json:"qualified"`
	CreatedAt time.Time       `json:"created_at"`

	CompletedAt *time.Time `json:"completed_at,omitempty"`
	FinalScore  *int       `json:"final_score,omitempty"`
	Summary     string     `json:"summary,omitempty"`
	Answers     []string   `json:"answers,omitempty"`
	Scores      []int      `json:"scores,omitempty"`
	Questions   []Question `json:"questions,omitempty"`

	RawText string `json:"raw_text,omitempty"`
}

// Outcome is the snapshot of a finished session handed to the registry.
// The registry receives copies, never a live reference into the session.
type Outcome struct {
	CandidateID string
	FinalScore  int
	Summary     string
	Answers     []string
	Scores      []int
	Questions   []Question
	CompletedAt time.Time
}
