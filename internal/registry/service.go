// Package registry owns the candidate records shown on the interviewer
// dashboard. Records are created on resume upload, updated in place and
// never deleted.
package registry

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/crispai/crisp/internal/domain"
	"github.com/crispai/crisp/internal/errors"
	"github.com/crispai/crisp/internal/event"
	"github.com/crispai/crisp/internal/oracle"
)

const passingScore = 70

type Config struct {
	EventBus *event.Bus

	// OnChange is called after every mutation so the caller can persist
	// a snapshot.
	OnChange func(ctx context.Context)

	// Records rehydrates previously persisted candidates.
	Records map[string]domain.CandidateRecord
}

type Service struct {
	eb       *event.Bus
	onChange func(ctx context.Context)

	mu      sync.RWMutex
	records map[string]domain.CandidateRecord
}

func NewService(c Config) *Service {
	s := &Service{
		eb:       c.EventBus,
		onChange: c.OnChange,
		records:  make(map[string]domain.CandidateRecord),
	}

	for id, r := range c.Records {
		s.records[id] = r
	}

	if s.eb != nil {
		s.eb.Subscribe(domain.EventNameSessionCompleted, func(ctx context.Context, e event.Event) error {
			return s.Complete(ctx, e.(domain.EventSessionCompleted))
		})
	}

	return s
}

type AddCandidateRequest struct {
	Profile domain.Profile
}

// AddCandidate creates an in-progress record from an extracted profile.
func (s *Service) AddCandidate(ctx context.Context, req AddCandidateRequest) (*domain.CandidateRecord, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate candidate ID: %w", err)
	}

	r := domain.CandidateRecord{
		ID:        id.String(),
		Name:      req.Profile.Name,
		Email:     req.Profile.Email,
		Phone:     req.Profile.Phone,
		Status:    domain.StatusInProgress,
		CreatedAt: time.Now().UTC(),
		RawText:   req.Profile.RawText,
	}

	s.mu.Lock()
	s.records[r.ID] = r
	s.mu.Unlock()

	s.persist(ctx)
	return &r, nil
}

type UpdateProfileRequest struct {
	ID    string
	Name  string
	Email string
	Phone string
}

// UpdateProfile fills profile fields collected from the missing-fields
// form. Empty request fields leave the record untouched.
func (s *Service) UpdateProfile(ctx context.Context, req UpdateProfileRequest) (*domain.CandidateRecord, error) {
	s.mu.Lock()
	r, ok := s.records[req.ID]
	if !ok {
		s.mu.Unlock()
		return nil, notFound(req.ID)
	}

	if req.Name != "" {
		r.Name = req.Name
	}
	if req.Email != "" {
		r.Email = req.Email
	}
	if req.Phone != "" {
		r.Phone = req.Phone
	}
	s.records[req.ID] = r
	s.mu.Unlock()

	s.persist(ctx)
	return &r, nil
}

type SetQualifiedRequest struct {
	ID        string
	Qualified bool
}

// SetQualified records the outcome of the camera qualification gate.
func (s *Service) SetQualified(ctx context.Context, req SetQualifiedRequest) (*domain.CandidateRecord, error) {
	s.mu.Lock()
	r, ok := s.records[req.ID]
	if !ok {
		s.mu.Unlock()
		return nil, notFound(req.ID)
	}

	r.Qualified = req.Qualified
	s.records[req.ID] = r
	s.mu.Unlock()

	s.persist(ctx)
	return &r, nil
}

// Complete attaches a session outcome to the candidate record. The
// record keeps its original ID and profile fields.
func (s *Service) Complete(ctx context.Context, e domain.EventSessionCompleted) error {
	o := e.Outcome

	s.mu.Lock()
	r, ok := s.records[o.CandidateID]
	if !ok {
		s.mu.Unlock()
		return notFound(o.CandidateID)
	}

	completedAt := o.CompletedAt
	final := o.FinalScore

	r.Status = domain.StatusCompleted
	r.FinalScore = &final
	r.Summary = o.Summary
	r.CompletedAt = &completedAt
	r.Answers = append([]string(nil), o.Answers...)
	r.Scores = append([]int(nil), o.Scores...)
	r.Questions = append([]domain.Question(nil), o.Questions...)
	s.records[o.CandidateID] = r
	s.mu.Unlock()

	s.persist(ctx)

	if s.eb != nil {
		s.eb.Publish(ctx, domain.EventCandidateCompleted{Candidate: r})
	}

	return nil
}

type GetCandidateRequest struct {
	ID string
}

func (s *Service) GetCandidate(_ context.Context, req GetCandidateRequest) (*domain.CandidateRecord, error) {
	s.mu.RLock()
	r, ok := s.records[req.ID]
	s.mu.RUnlock()

	if !ok {
		return nil, notFound(req.ID)
	}

	return &r, nil
}

// List sort orders.
const (
	SortByScore  = "score"
	SortByDate   = "date"
	SortByStatus = "status"
)

type ListCandidatesRequest struct {
	// Query filters by name or email substring, case-insensitive.
	Query string
	// SortBy is score (default, descending), date (newest first) or
	// status (in-progress first).
	SortBy string
}

func (s *Service) ListCandidates(_ context.Context, req ListCandidatesRequest) ([]domain.CandidateRecord, error) {
	q := strings.ToLower(req.Query)

	s.mu.RLock()
	out := make([]domain.CandidateRecord, 0, len(s.records))
	for _, r := range s.records {
		if q != "" &&
			!strings.Contains(strings.ToLower(r.Name), q) &&
			!strings.Contains(strings.ToLower(r.Email), q) {
			continue
		}
		out = append(out, r)
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		switch req.SortBy {
		case SortByDate:
			return out[i].CreatedAt.After(out[j].CreatedAt)
		case SortByStatus:
			return statusOrder(out[i].Status) < statusOrder(out[j].Status)
		default:
			return score(out[i]) > score(out[j])
		}
	})

	return out, nil
}

func statusOrder(s domain.CandidateStatus) int {
	if s == domain.StatusInProgress {
		return 0
	}
	return 1
}

func score(r domain.CandidateRecord) int {
	if r.FinalScore == nil {
		return 0
	}
	return *r.FinalScore
}

// Stats are the dashboard headline numbers.
type Stats struct {
	Total        int `json:"total"`
	Completed    int `json:"completed"`
	InProgress   int `json:"in_progress"`
	AverageScore int `json:"average_score"`
	Passed       int `json:"passed"`
}

func (s *Service) GetStats(_ context.Context) (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := &Stats{Total: len(s.records)}

	var scores []int
	for _, r := range s.records {
		if r.Status != domain.StatusCompleted {
			st.InProgress++
			continue
		}

		st.Completed++
		sc := score(r)
		scores = append(scores, sc)
		if sc >= passingScore {
			st.Passed++
		}
	}

	if len(scores) > 0 {
		st.AverageScore = int(oracle.MeanScore(scores).Round(0).IntPart())
	}

	return st, nil
}

// PassRate is the share of completed candidates at or above the passing
// score, as a percentage.
func (st Stats) PassRate() decimal.Decimal {
	if st.Completed == 0 {
		return decimal.Zero
	}

	return decimal.NewFromInt(int64(st.Passed)).
		Div(decimal.NewFromInt(int64(st.Completed))).
		Mul(decimal.NewFromInt(100))
}

// Dump returns a copy of the candidate mapping, for persistence.
func (s *Service) Dump() map[string]domain.CandidateRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]domain.CandidateRecord, len(s.records))
	for id, r := range s.records {
		out[id] = r
	}

	return out
}

func (s *Service) persist(ctx context.Context) {
	if s.onChange != nil {
		s.onChange(ctx)
	}
}

func notFound(id string) error {
	return errors.New(errors.CodeNotFound,
		errors.WithMessagef("candidate not found: id=%s", id))
}
